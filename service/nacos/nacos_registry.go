package nacos

import (
	"strconv"
	"sync"

	"MinerWs/logger"
	"MinerWs/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// Naming 是 INamingClient 中注册实例用到的子集
type Naming interface {
	RegisterInstance(param vo.RegisterInstanceParam) (bool, error)
	DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error)
}

const defaultGroup = "DEFAULT_GROUP"

// Registry 把网关节点注册为 nacos 临时实例，metadata 带节点号与 ws 路径
type Registry struct {
	ServiceName string
	IP          string
	Port        uint64
	Group       string

	client   Naming
	metadata map[string]string

	mu         sync.Mutex
	registered bool
}

func NewRegistry(client Naming, serviceName, ip string, port uint64) *Registry {
	return &Registry{
		ServiceName: serviceName,
		IP:          ip,
		Port:        port,
		Group:       defaultGroup,
		client:      client,
		metadata:    map[string]string{"protocol": "ws"},
	}
}

// WithNode 附加网关自身信息，需在 Register 前调用
func (r *Registry) WithNode(nodeID int64, nodeName, wsPath string) *Registry {
	r.metadata["nodeId"] = strconv.FormatInt(nodeID, 10)
	r.metadata["nodeName"] = nodeName
	r.metadata["wsPath"] = wsPath
	return r
}

func (r *Registry) Metadata() map[string]string {
	out := make(map[string]string, len(r.metadata))
	for k, v := range r.metadata {
		out[k] = v
	}
	return out
}

func (r *Registry) Register() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		ClusterName: "DEFAULT",
		Ephemeral:   true,
		Metadata:    r.Metadata(),
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos register", "service", r.ServiceName)
	}
	if !ok {
		return errs.New("nacos register returned false", "service", r.ServiceName)
	}
	r.registered = true
	logger.Info("nacos registered", zap.String("service", r.ServiceName),
		zap.String("ip", r.IP), zap.Uint64("port", r.Port))
	return nil
}

// Deregister 未注册时直接返回
func (r *Registry) Deregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.registered {
		return nil
	}
	ok, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		Cluster:     "DEFAULT",
		Ephemeral:   true,
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos deregister", "service", r.ServiceName)
	}
	if !ok {
		logger.Warn("nacos instance already gone", zap.String("service", r.ServiceName))
	}
	r.registered = false
	return nil
}
