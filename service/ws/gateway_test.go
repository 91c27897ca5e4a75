package ws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MinerWs/module/miner/model"
	"MinerWs/service/identity"
	"MinerWs/service/session"
	"MinerWs/tools/errs"
	"MinerWs/tools/security"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	sent   [][]byte
	closed bool
	code   int
	reason string
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.ErrConnClosed.Wrap()
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed, c.code, c.reason = true, code, reason
	}
	return nil
}

func (c *fakeConn) state() (closed bool, code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.code, c.reason
}

func (c *fakeConn) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(kind, login, client string) {
	r.mu.Lock()
	r.events = append(r.events, kind+":"+login+":"+client)
	r.mu.Unlock()
}

func (r *recorder) Opened(l, c string)   { r.add("opened", l, c) }
func (r *recorder) Closed(l, c string)   { r.add("closed", l, c) }
func (r *recorder) Breathed(l, c string) { r.add("breathed", l, c) }
func (r *recorder) IdentityChanged(s model.MinerSign) {
	r.add("identityChanged", s.LoginName, s.ClientID)
}
func (r *recorder) AccountKeyProvisioned(l, c string, _ model.AccountKeyPair) {
	r.add("accountKeyProvisioned", l, c)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, e := range r.all() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	gw    *Gateway
	reg   *session.Registry
	store *identity.MemoryStore
	rec   *recorder
	clk   *clock
	opts  security.Options
	calls sync.Map // clientId -> *atomic.Int32
	seq   atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	opts, err := security.NewOptions([]byte("test-secret-0123456789"), "HS256", time.Hour)
	require.NoError(t, err)

	h := &harness{
		store: identity.NewMemoryStore(),
		rec:   &recorder{},
		clk:   &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
		opts:  opts,
	}
	h.reg = session.NewRegistry(session.ManagerConf{Clock: h.clk.Now})

	table := NewHandlerTable()
	table.MustRegister("Count", func(c *ConnContext, _, clientID string, _ *Envelope) error {
		v, _ := h.calls.LoadOrStore(clientID, new(atomic.Int32))
		v.(*atomic.Int32).Add(1)
		return nil
	})
	table.MustRegister("Boom", func(*ConnContext, string, string, *Envelope) error {
		panic("handler bug")
	})
	table.MustRegister("Fail", func(*ConnContext, string, string, *Envelope) error {
		return errors.New("handler failed")
	})
	table.MustRegister("Echo", func(c *ConnContext, _, _ string, env *Envelope) error {
		return c.Reply("EchoReply", env.Data)
	})
	table.Freeze()

	h.gw = NewGateway(Deps{
		Registry: h.reg,
		Store:    h.store,
		Events:   h.rec,
		Auth:     NewJWTAuthenticator(opts),
		Handlers: table,
		Clock:    h.clk.Now,
		RSABits:  1024,
	})
	return h
}

func (h *harness) request(t *testing.T, login, clientID string) *http.Request {
	t.Helper()
	tok, _, err := security.Generate(h.opts, login, login)
	require.NoError(t, err)
	q := url.Values{"token": {tok}, "clientId": {clientID}}
	return httptest.NewRequest(http.MethodGet, "/ws?"+q.Encode(), nil)
}

func (h *harness) connect(t *testing.T, login, clientID string) (*fakeConn, session.Session) {
	t.Helper()
	conn := newFakeConn(fmt.Sprintf("conn-%d", h.seq.Add(1)))
	s, err := h.gw.OnOpen(context.Background(), conn, h.request(t, login, clientID))
	require.NoError(t, err)
	return conn, s
}

func (h *harness) sign(t *testing.T, clientID string) *model.MinerSign {
	t.Helper()
	s, err := h.store.GetByClientID(context.Background(), clientID)
	require.NoError(t, err)
	return s
}

func (h *harness) calledFor(clientID string) int32 {
	v, ok := h.calls.Load(clientID)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

func sealed(t *testing.T, typ, secret string, data any) []byte {
	t.Helper()
	env, err := NewEnvelope(typ, data)
	require.NoError(t, err)
	raw, err := env.Seal(secret)
	require.NoError(t, err)
	return raw
}

// recoverBootstrap checks the bootstrap envelope and returns the secret it carries.
func recoverBootstrap(t *testing.T, frame []byte, secret string) string {
	t.Helper()
	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	require.Equal(t, TypeUpdateAESPassword, env.Type)
	require.True(t, env.Verify(secret), "bootstrap must be signed with the current secret")

	var data model.AESPassword
	require.NoError(t, env.DecodeData(&data))
	pub, err := security.ParsePublicKey(data.PublicKey)
	require.NoError(t, err)
	ct, err := base64.StdEncoding.DecodeString(data.Password)
	require.NoError(t, err)
	pt, err := security.DecryptWithPublicKey(ct, pub)
	require.NoError(t, err)
	return string(pt)
}

func TestFirstConnectCreatesSign(t *testing.T) {
	h := newHarness(t)
	conn, s := h.connect(t, "alice", "C1")

	sign := h.sign(t, "C1")
	assert.NotEmpty(t, sign.ID)
	assert.NotEmpty(t, sign.AESPassword)
	assert.Equal(t, "alice", sign.OuterUserID)
	assert.Equal(t, "alice", sign.LoginName)
	assert.True(t, sign.AESPasswordOn.Equal(h.clk.Now()))
	assert.Equal(t, sign.AESPassword, s.SharedSecret)
	assert.Len(t, h.store.Notified(), 1)

	assert.Equal(t, []string{
		"opened:alice:C1",
		"accountKeyProvisioned:alice:C1",
		"identityChanged:alice:C1",
	}, h.rec.all())

	assert.Equal(t, sign.AESPassword, recoverBootstrap(t, conn.last(), sign.AESPassword))
	closed, _, _ := conn.state()
	assert.False(t, closed)
	assert.Equal(t, 1, h.reg.Count())
}

func TestReconnectScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conn1, _ := h.connect(t, "alice", "C1")
	first := h.sign(t, "C1")
	h.gw.OnClose(ctx, conn1)

	// 10 分钟后同账号重连：密钥不变，不触发 identityChanged
	h.clk.Advance(10 * time.Minute)
	conn2, s2 := h.connect(t, "alice", "C1")
	assert.Equal(t, first.AESPassword, s2.SharedSecret)
	assert.Equal(t, first.AESPassword, recoverBootstrap(t, conn2.last(), first.AESPassword))
	assert.Equal(t, 1, h.rec.count("identityChanged"))
	assert.Equal(t, 1, h.rec.count("accountKeyProvisioned"))
	assert.Len(t, h.store.Notified(), 1)
	h.gw.OnClose(ctx, conn2)

	// 换账号 bob：重新绑定并触发 identityChanged
	_, s3 := h.connect(t, "bob", "C1")
	bound := h.sign(t, "C1")
	assert.Equal(t, "bob", bound.OuterUserID)
	assert.Equal(t, "bob", bound.LoginName)
	assert.Equal(t, first.ID, bound.ID)
	assert.Equal(t, first.AESPassword, s3.SharedSecret)
	assert.Equal(t, 2, h.rec.count("identityChanged"))
	assert.Contains(t, h.rec.all(), "identityChanged:bob:C1")
	assert.Contains(t, h.rec.all(), "opened:alice:C1")
}

func TestStaleSecretIsRotated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := model.NewMinerSign("id-1", "C1", "alice", "alice")
	stale.Rotate("old-secret", h.clk.Now().Add(-25*time.Hour))
	require.NoError(t, h.store.SaveSign(ctx, *stale))

	conn, s := h.connect(t, "alice", "C1")
	rotated := h.sign(t, "C1")
	assert.NotEqual(t, "old-secret", rotated.AESPassword)
	assert.NotEmpty(t, rotated.AESPassword)
	assert.Equal(t, rotated.AESPassword, s.SharedSecret)
	assert.True(t, rotated.AESPasswordOn.Equal(h.clk.Now()))
	assert.Equal(t, 1, h.rec.count("identityChanged"))

	// 旧密钥签名的消息被丢弃，新密钥签名的正常分发
	h.gw.OnMessage(ctx, conn, Frame{Data: sealed(t, "Count", "old-secret", nil)})
	assert.Equal(t, int32(0), h.calledFor("C1"))
	h.gw.OnMessage(ctx, conn, Frame{Data: sealed(t, "Count", rotated.AESPassword, nil)})
	assert.Equal(t, int32(1), h.calledFor("C1"))

	closed, _, _ := conn.state()
	assert.False(t, closed)
}

func TestSecretInsideWindowIsKept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fresh := model.NewMinerSign("id-1", "C1", "alice", "alice")
	fresh.Rotate("current", h.clk.Now().Add(-23*time.Hour))
	require.NoError(t, h.store.SaveSign(ctx, *fresh))

	_, s := h.connect(t, "alice", "C1")
	assert.Equal(t, "current", s.SharedSecret)
	assert.Zero(t, h.rec.count("identityChanged"))
	assert.Empty(t, h.store.Notified())
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// 未注册连接上的心跳：无事件、无错误
	ghost := newFakeConn("ghost")
	h.gw.OnMessage(ctx, ghost, Frame{Heartbeat: true})
	assert.Empty(t, h.rec.all())
	closed, _, _ := ghost.state()
	assert.False(t, closed)

	conn, s := h.connect(t, "alice", "C1")
	h.clk.Advance(time.Minute)
	h.gw.OnMessage(ctx, conn, Frame{Heartbeat: true})
	assert.Equal(t, 1, h.rec.count("breathed:alice:C1"))

	got, ok := h.reg.TryGetByConnectionID(conn.ID())
	require.True(t, ok)
	assert.Equal(t, s.LastActiveAt.Add(time.Minute), got.LastActiveAt)
}

func TestUnknownTypeKeepsConnection(t *testing.T) {
	h := newHarness(t)
	conn, s := h.connect(t, "alice", "C1")

	h.gw.OnMessage(context.Background(), conn, Frame{Data: sealed(t, "NoSuchType", s.SharedSecret, map[string]int{"x": 1})})

	closed, _, _ := conn.state()
	assert.False(t, closed)
	_, ok := h.reg.TryGetByConnectionID(conn.ID())
	assert.True(t, ok)
}

func TestUndecodableFrameIsDropped(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.connect(t, "alice", "C1")
	sentBefore := len(conn.sent)

	h.gw.OnMessage(context.Background(), conn, Frame{Data: []byte("not json")})
	h.gw.OnMessage(context.Background(), conn, Frame{Data: []byte(`{"id":"1"}`)})

	closed, _, _ := conn.state()
	assert.False(t, closed)
	assert.Len(t, conn.sent, sentBefore)
}

func TestHandlerFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	x, sx := h.connect(t, "alice", "X")
	y, sy := h.connect(t, "bob", "Y")

	assert.NotPanics(t, func() {
		h.gw.OnMessage(ctx, x, Frame{Data: sealed(t, "Boom", sx.SharedSecret, nil)})
		h.gw.OnMessage(ctx, x, Frame{Data: sealed(t, "Fail", sx.SharedSecret, nil)})
	})

	h.gw.OnMessage(ctx, y, Frame{Data: sealed(t, "Count", sy.SharedSecret, nil)})
	assert.Equal(t, int32(1), h.calledFor("Y"))

	for _, c := range []*fakeConn{x, y} {
		closed, _, _ := c.state()
		assert.False(t, closed)
		_, ok := h.reg.TryGetByConnectionID(c.ID())
		assert.True(t, ok)
	}

	// X 仍可正常分发
	h.gw.OnMessage(ctx, x, Frame{Data: sealed(t, "Count", sx.SharedSecret, nil)})
	assert.Equal(t, int32(1), h.calledFor("X"))
}

func TestMessageForVanishedSessionCloses(t *testing.T) {
	h := newHarness(t)
	conn, s := h.connect(t, "alice", "C1")
	_, ok := h.reg.RemoveByConnectionID(conn.ID())
	require.True(t, ok)

	h.gw.OnMessage(context.Background(), conn, Frame{Data: sealed(t, "Count", s.SharedSecret, nil)})

	closed, code, reason := conn.state()
	assert.True(t, closed)
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.Equal(t, ReasonSessionNotFound, reason)
	assert.Zero(t, h.calledFor("C1"))
}

func TestReplyIsSignedWithSessionSecret(t *testing.T) {
	h := newHarness(t)
	conn, s := h.connect(t, "alice", "C1")

	h.gw.OnMessage(context.Background(), conn, Frame{Data: sealed(t, "Echo", s.SharedSecret, map[string]string{"k": "v"})})

	env, err := DecodeEnvelope(conn.last())
	require.NoError(t, err)
	assert.Equal(t, "EchoReply", env.Type)
	assert.True(t, env.Verify(s.SharedSecret))
	assert.JSONEq(t, `{"k":"v"}`, string(env.Data))
}

func TestStoreUnavailableClosesConnection(t *testing.T) {
	h := newHarness(t)
	h.store.SetUnavailable(errors.New("db down"))

	conn := newFakeConn("conn-x")
	_, err := h.gw.OnOpen(context.Background(), conn, h.request(t, "alice", "C1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrStoreUnavailable))

	closed, _, reason := conn.state()
	assert.True(t, closed)
	assert.Equal(t, ReasonStoreUnavailable, reason)
	assert.Zero(t, h.reg.Count())
	assert.Equal(t, []string{"opened:alice:C1", "closed:alice:C1"}, h.rec.all())
	assert.Empty(t, h.store.Notified())

	// 之后的消息不会被分发
	h.gw.OnMessage(context.Background(), conn, Frame{Heartbeat: true})
	assert.Zero(t, h.rec.count("breathed"))
}

func TestUnauthorizedHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn("conn-x")
	req := httptest.NewRequest(http.MethodGet, "/ws?clientId=C1&token=garbage", nil)

	_, err := h.gw.OnOpen(context.Background(), conn, req)
	require.Error(t, err)
	assert.Equal(t, errs.IdentityUnresolvedError, errs.CodeOf(err))

	closed, code, reason := conn.state()
	assert.True(t, closed)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Equal(t, ReasonUnauthorized, reason)
	assert.Zero(t, h.reg.Count())
	assert.Empty(t, h.rec.all())
	assert.Zero(t, h.store.KeyPairCount())
}

func TestNewConnectionSupersedesOld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old, _ := h.connect(t, "alice", "C1")
	cur, _ := h.connect(t, "alice", "C1")

	closed, code, reason := old.state()
	assert.True(t, closed)
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.Equal(t, ReasonSuperseded, reason)

	// 旧连接迟到的关闭不能影响新会话
	h.gw.OnClose(ctx, old)
	got, ok := h.reg.TryGetByClientID("C1")
	require.True(t, ok)
	assert.Equal(t, cur.ID(), got.ConnectionID)
	assert.Equal(t, 1, h.reg.Count())
	assert.Equal(t, 2, h.rec.count("opened"))
	assert.Equal(t, 1, h.rec.count("closed"))

	h.gw.OnClose(ctx, cur)
	h.gw.OnClose(ctx, cur)
	assert.Zero(t, h.reg.Count())
	assert.Equal(t, 2, h.rec.count("closed"))
}

func TestEvictClosesTransport(t *testing.T) {
	h := newHarness(t)
	conn, s := h.connect(t, "alice", "C1")
	_, ok := h.reg.RemoveByConnectionID(conn.ID())
	require.True(t, ok)

	h.gw.Evict(s)
	closed, _, reason := conn.state()
	assert.True(t, closed)
	assert.Equal(t, ReasonIdleTimeout, reason)
	assert.Equal(t, 1, h.rec.count("closed:alice:C1"))
}

func TestConcurrentClients(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const n = 20

	reqs := make([]*http.Request, n)
	for i := range reqs {
		reqs[i] = h.request(t, "alice", fmt.Sprintf("C%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newFakeConn(fmt.Sprintf("conn-C%d", i))
			s, err := h.gw.OnOpen(ctx, conn, reqs[i])
			if !assert.NoError(t, err) {
				return
			}
			h.gw.OnMessage(ctx, conn, Frame{Heartbeat: true})
			env, _ := NewEnvelope("Count", nil)
			raw, _ := env.Seal(s.SharedSecret)
			h.gw.OnMessage(ctx, conn, Frame{Data: raw})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, h.reg.Count())
	assert.Equal(t, 1, h.store.KeyPairCount())
	for i := 0; i < n; i++ {
		assert.Equal(t, int32(1), h.calledFor(fmt.Sprintf("C%d", i)))
	}
}

func TestShutdownClosesEveryTransport(t *testing.T) {
	h := newHarness(t)
	c1, _ := h.connect(t, "alice", "rig-1")
	c2, _ := h.connect(t, "bob", "rig-2")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// fake 连接没有读循环，会话不会自行清理
	assert.ErrorIs(t, h.gw.Shutdown(ctx), context.DeadlineExceeded)

	for _, c := range []*fakeConn{c1, c2} {
		closed, code, reason := c.state()
		assert.True(t, closed)
		assert.Equal(t, websocket.CloseGoingAway, code)
		assert.Equal(t, ReasonShutdown, reason)
		h.gw.OnClose(context.Background(), c)
	}
	assert.NoError(t, h.gw.Shutdown(context.Background()))
	assert.Zero(t, h.reg.Count())
}

// memTracker 模拟 RedisTracker 的 conn_id 守护语义；hold 指定的连接在
// Online 写入前阻塞，直到 release 关闭。
type memTracker struct {
	mu     sync.Mutex
	owners map[string]string // clientId -> connId

	hold    string
	entered chan struct{}
	release chan struct{}
}

func newMemTracker(hold string) *memTracker {
	return &memTracker{
		owners:  make(map[string]string),
		hold:    hold,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (m *memTracker) Online(_ context.Context, s session.Session) error {
	if s.ConnectionID == m.hold {
		close(m.entered)
		<-m.release
	}
	m.mu.Lock()
	m.owners[s.ClientID] = s.ConnectionID
	m.mu.Unlock()
	return nil
}

func (m *memTracker) Touch(context.Context, session.Session) error { return nil }

func (m *memTracker) Offline(_ context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[s.ClientID] == s.ConnectionID {
		delete(m.owners, s.ClientID)
	}
	return nil
}

func (m *memTracker) Get(_ context.Context, clientID string) (*model.MinerPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.owners[clientID]
	if !ok {
		return nil, nil
	}
	return &model.MinerPresence{ClientID: clientID, ConnID: id}, nil
}

func (h *harness) withPresence(tr *memTracker) {
	h.gw = NewGateway(Deps{
		Registry: h.reg,
		Store:    h.store,
		Events:   h.rec,
		Auth:     NewJWTAuthenticator(h.opts),
		Handlers: h.gw.handlers,
		Presence: tr,
		Clock:    h.clk.Now,
		RSABits:  1024,
	})
}

func TestSupersedeDuringHandshakeKeepsPresence(t *testing.T) {
	h := newHarness(t)
	tr := newMemTracker("conn-A")
	h.withPresence(tr)
	ctx := context.Background()

	connA := newFakeConn("conn-A")
	reqA := h.request(t, "alice", "C1")
	errCh := make(chan error, 1)
	go func() {
		_, err := h.gw.OnOpen(ctx, connA, reqA)
		errCh <- err
	}()

	// A 已注册、presence 写入被卡住时，B 以同一 clientId 完成握手
	<-tr.entered
	connB, _ := h.connect(t, "alice", "C1")
	close(tr.release)

	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, errs.SessionNotFoundError, errs.CodeOf(err))

	closed, _, reason := connA.state()
	assert.True(t, closed)
	assert.Equal(t, ReasonSuperseded, reason)

	owner, ok := h.reg.TryGetByClientID("C1")
	require.True(t, ok)
	assert.Equal(t, connB.ID(), owner.ConnectionID)

	p, err := tr.Get(ctx, "C1")
	require.NoError(t, err)
	require.NotNil(t, p, "live miner must stay present")
	assert.Equal(t, connB.ID(), p.ConnID)
}

func TestPresenceFollowsOpenAndClose(t *testing.T) {
	h := newHarness(t)
	tr := newMemTracker("")
	h.withPresence(tr)
	ctx := context.Background()

	conn, _ := h.connect(t, "alice", "C1")
	p, err := tr.Get(ctx, "C1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, conn.ID(), p.ConnID)

	h.gw.OnClose(ctx, conn)
	p, err = tr.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestIncompleteKeyPairAbortsHandshake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.PersistAccountKeyPair(ctx, "alice", model.AccountKeyPair{PublicKey: "pub-only"}))

	for i := 0; i < 2; i++ {
		conn := newFakeConn(fmt.Sprintf("conn-bad-%d", i))
		_, err := h.gw.OnOpen(ctx, conn, h.request(t, "alice", "C1"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrStoreUnavailable))

		closed, _, reason := conn.state()
		assert.True(t, closed)
		assert.Equal(t, ReasonStoreUnavailable, reason)
		assert.Nil(t, conn.last(), "no bootstrap with a fresh key")
	}
	assert.Zero(t, h.reg.Count())
	assert.Zero(t, h.rec.count("accountKeyProvisioned"))

	kp, err := h.store.GetAccountKeyPair(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "pub-only", kp.PublicKey)
}

func TestKeyGenerationFailureIsInternal(t *testing.T) {
	h := newHarness(t)
	h.gw = NewGateway(Deps{
		Registry: h.reg,
		Store:    h.store,
		Events:   h.rec,
		Auth:     NewJWTAuthenticator(h.opts),
		Handlers: h.gw.handlers,
		Clock:    h.clk.Now,
		RSABits:  1, // rsa 无法生成
	})

	conn := newFakeConn("conn-x")
	_, err := h.gw.OnOpen(context.Background(), conn, h.request(t, "alice", "C1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInternalServer))
	assert.Equal(t, errs.ServerInternalError, errs.CodeOf(err))

	closed, code, reason := conn.state()
	assert.True(t, closed)
	assert.Equal(t, websocket.CloseInternalServerErr, code)
	assert.Equal(t, ReasonInternal, reason)
	assert.Zero(t, h.reg.Count())
	assert.Zero(t, h.store.KeyPairCount())
}
