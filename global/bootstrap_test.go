package global

import (
	"context"
	"path/filepath"
	"testing"

	"MinerWs/global/config"
	"MinerWs/service/events"
	"MinerWs/service/identity"
	"MinerWs/service/presence"
	"MinerWs/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.AppConfig {
	cfg := config.Default()
	cfg.Security.JWTSecret = "s"
	cfg.Bolt.Path = filepath.Join(t.TempDir(), "minerws.db")
	return cfg
}

func TestCleanupRunsInReverse(t *testing.T) {
	var order []int
	var cl Cleanup
	cl.Add(func() { order = append(order, 1) })
	cl.Add(func() { order = append(order, 2) })
	cl.Run()
	cl.Run()
	assert.Equal(t, []int{2, 1}, order)
}

func TestConfigStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	var cl Cleanup
	defer cl.Run()

	cfg.Store.Driver = config.StoreMemory
	st, err := ConfigStore(ctx, cfg, &cl)
	require.NoError(t, err)
	assert.IsType(t, &identity.MemoryStore{}, st)

	cfg.Store.Driver = config.StoreBolt
	st, err = ConfigStore(ctx, cfg, &cl)
	require.NoError(t, err)
	assert.IsType(t, &identity.Composite{}, st)

	cfg.Store.Driver = "mysql"
	_, err = ConfigStore(ctx, cfg, &cl)
	assert.ErrorIs(t, err, errs.ErrArgs)
}

func TestConfigPublisher(t *testing.T) {
	cfg := testConfig(t)

	pub, err := ConfigPublisher(cfg)
	require.NoError(t, err)
	assert.IsType(t, &events.LogPublisher{}, pub)

	cfg.Events.Drivers = nil
	pub, err = ConfigPublisher(cfg)
	require.NoError(t, err)
	assert.IsType(t, &events.LogPublisher{}, pub)

	cfg.Events.Drivers = []string{config.EventsLog, config.EventsLog}
	pub, err = ConfigPublisher(cfg)
	require.NoError(t, err)
	assert.Len(t, pub, 2)

	cfg.Events.Drivers = []string{"amqp"}
	_, err = ConfigPublisher(cfg)
	assert.ErrorIs(t, err, errs.ErrArgs)
}

func TestConfigEmitterAndPresence(t *testing.T) {
	cfg := testConfig(t)
	var cl Cleanup

	em, err := ConfigEmitter(cfg, &cl)
	require.NoError(t, err)
	assert.NotNil(t, em)

	tr, err := ConfigPresence(context.Background(), cfg, &cl)
	require.NoError(t, err)
	assert.Equal(t, presence.Noop{}, tr)

	cl.Run()
}

func TestNodeName(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "minerws-1", NodeName(cfg))
	cfg.NodeName = ""
	cfg.NodeID = 12
	assert.Equal(t, "node-12", NodeName(cfg))
}

func TestConfigMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	m := ConfigMiddleware(r, testConfig(t))
	assert.Equal(t, 1, m.Len())
}
