package nacos

import (
	"errors"
	"sync"
	"testing"

	"MinerWs/global/config"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	content  string
	getErr   error
	listener func(namespace, group, dataId, data string)
	canceled bool
}

func (f *fakeSource) GetConfig(p vo.ConfigParam) (string, error) { return f.content, f.getErr }

func (f *fakeSource) ListenConfig(p vo.ConfigParam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = p.OnChange
	return nil
}

func (f *fakeSource) CancelListenConfig(p vo.ConfigParam) error {
	f.canceled = true
	return nil
}

func (f *fakeSource) push(data string) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	l("", "g", "d", data)
}

func TestWatcherAppliesInitialAndChanges(t *testing.T) {
	src := &fakeSource{content: "v1"}
	var got []string
	w := NewWatcher(src, "d", "g", func(data string) error {
		got = append(got, data)
		return nil
	})
	require.NoError(t, w.Start())
	assert.Equal(t, "v1", w.Current())

	src.push("v2")
	assert.Equal(t, []string{"v1", "v2"}, got)
	assert.Equal(t, "v2", w.Current())

	require.NoError(t, w.Stop())
	assert.True(t, src.canceled)
}

func TestWatcherSurvivesBadCallback(t *testing.T) {
	src := &fakeSource{}
	calls := 0
	w := NewWatcher(src, "d", "g", func(data string) error {
		calls++
		if data == "panic" {
			panic("bad")
		}
		return errors.New("rejected")
	})
	require.NoError(t, w.Start())
	assert.Equal(t, 0, calls, "empty initial content is not applied")

	src.push("x")
	src.push("panic")
	assert.Equal(t, 2, calls)
	assert.Equal(t, "panic", w.Current())
}

func TestWatcherGetError(t *testing.T) {
	w := NewWatcher(&fakeSource{getErr: errors.New("down")}, "d", "g", nil)
	assert.Error(t, w.Start())
}

type fakeNaming struct {
	reg   []vo.RegisterInstanceParam
	dereg []vo.DeregisterInstanceParam
	ok    bool
}

func (f *fakeNaming) RegisterInstance(p vo.RegisterInstanceParam) (bool, error) {
	f.reg = append(f.reg, p)
	return f.ok, nil
}

func (f *fakeNaming) DeregisterInstance(p vo.DeregisterInstanceParam) (bool, error) {
	f.dereg = append(f.dereg, p)
	return true, nil
}

func TestRegistryRegisterDeregister(t *testing.T) {
	n := &fakeNaming{ok: true}
	r := NewRegistry(n, "minerws", "10.0.0.2", 8088).WithNode(3, "gw-3", "/ws")

	require.NoError(t, r.Deregister())
	assert.Empty(t, n.dereg, "never registered")

	require.NoError(t, r.Register())
	require.Len(t, n.reg, 1)
	p := n.reg[0]
	assert.Equal(t, "minerws", p.ServiceName)
	assert.Equal(t, uint64(8088), p.Port)
	assert.True(t, p.Ephemeral)
	assert.Equal(t, map[string]string{"protocol": "ws", "nodeId": "3", "nodeName": "gw-3", "wsPath": "/ws"}, p.Metadata)

	require.NoError(t, r.Deregister())
	require.NoError(t, r.Deregister())
	assert.Len(t, n.dereg, 1)
}

func TestRegistryRejected(t *testing.T) {
	r := NewRegistry(&fakeNaming{ok: false}, "minerws", "127.0.0.1", 1)
	assert.Error(t, r.Register())
}

func TestClientConfigFromAppConfig(t *testing.T) {
	c := config.Default().Nacos
	c.Servers = []config.NacosServer{{Host: "n1", Port: 8848}, {Host: "n2", Port: 8849}}
	c.NamespaceID = "prod"
	c.TimeoutMs = 0

	sc := serverConfigs(c)
	require.Len(t, sc, 2)
	assert.Equal(t, "n2", sc[1].IpAddr)
	assert.Equal(t, uint64(8849), sc[1].Port)

	cc := clientConfig(c)
	assert.Equal(t, "prod", cc.NamespaceId)
	assert.Equal(t, uint64(5000), cc.TimeoutMs)
}
