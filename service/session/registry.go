package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"MinerWs/tools/errs"
)

// ===== 配置 =====

type ManagerConf struct {
	IdleTTL    time.Duration    // 超过该时长无心跳则清理（<=0 不清理）
	SweepEvery time.Duration    // 清理周期
	Clock      func() time.Time // 可注入时钟（单测用）；nil => time.Now
	OnEvict    func(Session)    // 被清理的会话回调（在锁外调用）
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
}

// ===== 数据结构 =====

// Session is an immutable snapshot of one live miner connection.
type Session struct {
	ConnectionID string
	ClientID     string
	LoginName    string
	OuterUserID  string
	SharedSecret string // 本连接握手时生效的共享密钥
	CreatedAt    time.Time
	LastActiveAt time.Time
}

type entry struct {
	snap       Session
	lastActive atomic.Int64 // unix nano，心跳只动这个字段
}

func newEntry(s Session) *entry {
	e := &entry{snap: s}
	e.lastActive.Store(s.LastActiveAt.UnixNano())
	return e
}

func (e *entry) snapshot() Session {
	s := e.snap
	s.LastActiveAt = time.Unix(0, e.lastActive.Load())
	return s
}

// Registry 双索引会话表：connectionId -> session，clientId -> 当前 session
type Registry struct {
	mu       sync.RWMutex
	byConn   map[string]*entry // 主索引
	byClient map[string]*entry // 辅助索引：每个 clientId 只保留最新一条

	conf     ManagerConf
	idleTTL  atomic.Int64 // 可热更新
	stopOnce sync.Once
	stopCh   chan struct{}
}

// ===== 构造/关闭 =====

func NewRegistry(conf ManagerConf) *Registry {
	conf.norm()
	r := &Registry{
		byConn:   make(map[string]*entry),
		byClient: make(map[string]*entry),
		conf:     conf,
		stopCh:   make(chan struct{}),
	}
	r.idleTTL.Store(int64(conf.IdleTTL))
	return r
}

// Start runs the idle sweeper until ctx is done or Close is called.
func (r *Registry) Start(ctx context.Context) {
	go r.sweeper(ctx)
}

// SetIdleTTL changes the idle timeout used by later sweeps; <=0 disables.
func (r *Registry) SetIdleTTL(d time.Duration) {
	r.idleTTL.Store(int64(d))
}

func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// ===== 会话操作 =====

// Add registers s under both indices. A session already held by the same
// client id is evicted and returned so the caller can close its transport.
// A duplicate connection id means the transport handed out the same id
// twice and is reported as ErrDuplicateConn.
func (r *Registry) Add(s Session) (superseded *Session, err error) {
	if s.ConnectionID == "" || s.ClientID == "" {
		return nil, errs.ErrArgs.WrapMsg("connectionId/clientId empty")
	}
	now := r.conf.Clock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastActiveAt.IsZero() {
		s.LastActiveAt = now
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConn[s.ConnectionID]; exists {
		return nil, errs.ErrDuplicateConn.WrapMsg("add session", "conn_id", s.ConnectionID)
	}

	if old, ok := r.byClient[s.ClientID]; ok {
		delete(r.byConn, old.snap.ConnectionID)
		snap := old.snapshot()
		superseded = &snap
	}

	e := newEntry(s)
	r.byConn[s.ConnectionID] = e
	r.byClient[s.ClientID] = e
	return superseded, nil
}

// RemoveByConnectionID removes and returns the session; a second call for
// the same id reports false.
func (r *Registry) RemoveByConnectionID(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connID)
}

func (r *Registry) removeLocked(connID string) (Session, bool) {
	e, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.byConn, connID)
	// 只有索引仍指向本连接时才删除，避免误删新连接
	if cur, ok := r.byClient[e.snap.ClientID]; ok && cur == e {
		delete(r.byClient, e.snap.ClientID)
	}
	return e.snapshot(), true
}

func (r *Registry) TryGetByConnectionID(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}
	return e.snapshot(), true
}

func (r *Registry) TryGetByClientID(clientID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byClient[clientID]
	if !ok {
		return Session{}, false
	}
	return e.snapshot(), true
}

// TouchAndGetByConnectionID 心跳：刷新 LastActiveAt 并返回快照
func (r *Registry) TouchAndGetByConnectionID(connID string) (Session, bool) {
	now := r.conf.Clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}
	e.lastActive.Store(now.UnixNano())
	return e.snapshot(), true
}

// SetSharedSecret 握手完成后写入本连接生效的共享密钥
func (r *Registry) SetSharedSecret(connID, secret string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}
	e.snap.SharedSecret = secret
	return e.snapshot(), true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// List 返回所有会话快照（调试/统计用，慎用）
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.byConn))
	for _, e := range r.byConn {
		out = append(out, e.snapshot())
	}
	return out
}

// ===== 清理协程 =====

func (r *Registry) sweeper(ctx context.Context) {
	t := time.NewTicker(r.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-t.C:
			r.SweepIdle(r.conf.Clock())
		}
	}
}

// SweepIdle evicts sessions idle for longer than IdleTTL and returns them.
func (r *Registry) SweepIdle(now time.Time) []Session {
	ttl := time.Duration(r.idleTTL.Load())
	if ttl <= 0 {
		return nil
	}
	deadline := now.Add(-ttl).UnixNano()

	var expired []Session
	r.mu.Lock()
	for connID, e := range r.byConn {
		if e.lastActive.Load() < deadline {
			if s, ok := r.removeLocked(connID); ok {
				expired = append(expired, s)
			}
		}
	}
	r.mu.Unlock()

	// 收集后统一回调，避免持锁期间关闭 socket
	if r.conf.OnEvict != nil {
		for _, s := range expired {
			r.conf.OnEvict(s)
		}
	}
	return expired
}
