package nacos

import (
	"MinerWs/global/config"
	"MinerWs/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

func NewConfigClient(c config.NacosConfig) (config_client.IConfigClient, error) {
	cli, err := clients.NewConfigClient(clientParam(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos config client")
	}
	return cli, nil
}

func NewNamingClient(c config.NacosConfig) (naming_client.INamingClient, error) {
	cli, err := clients.NewNamingClient(clientParam(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos naming client")
	}
	return cli, nil
}

func clientParam(c config.NacosConfig) vo.NacosClientParam {
	return vo.NacosClientParam{
		ClientConfig:  clientConfig(c),
		ServerConfigs: serverConfigs(c),
	}
}

func serverConfigs(c config.NacosConfig) []constant.ServerConfig {
	out := make([]constant.ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, *constant.NewServerConfig(s.Host, s.Port))
	}
	return out
}

func clientConfig(c config.NacosConfig) *constant.ClientConfig {
	timeout := c.TimeoutMs
	if timeout == 0 {
		timeout = 5000
	}
	return constant.NewClientConfig(
		constant.WithNamespaceId(c.NamespaceID),
		constant.WithTimeoutMs(timeout),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel("warn"),
		constant.WithCacheDir(c.CacheDir),
		constant.WithLogDir(c.LogDir),
		constant.WithUsername(c.Username),
		constant.WithPassword(c.Password),
	)
}
