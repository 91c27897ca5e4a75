package identity

import (
	"context"
	"sync"

	"MinerWs/module/miner/model"
)

// MemoryStore keeps everything in process memory. NotifyIdentityChanged is
// applied synchronously, which keeps tests deterministic.
type MemoryStore struct {
	mu       sync.RWMutex
	signs    map[string]model.MinerSign
	keys     map[string]model.AccountKeyPair
	err      error // 非空时读取全部失败，模拟存储不可用
	notified []model.MinerSign
}

var (
	_ Store        = (*MemoryStore)(nil)
	_ SignStore    = (*MemoryStore)(nil)
	_ AccountStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signs: make(map[string]model.MinerSign),
		keys:  make(map[string]model.AccountKeyPair),
	}
}

// SetUnavailable makes every getter fail with err; nil restores service.
func (m *MemoryStore) SetUnavailable(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryStore) GetByClientID(_ context.Context, clientID string) (*model.MinerSign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.signs[clientID]
	if !ok {
		return nil, ErrNotFound.WrapMsg("miner sign", "client_id", clientID)
	}
	return &s, nil
}

func (m *MemoryStore) SaveSign(_ context.Context, sign model.MinerSign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signs[sign.ClientID] = sign
	return nil
}

func (m *MemoryStore) GetAccountKeyPair(_ context.Context, loginName string) (*model.AccountKeyPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	kp, ok := m.keys[loginName]
	if !ok {
		return nil, ErrNotFound.WrapMsg("account key", "login_name", loginName)
	}
	return &kp, nil
}

func (m *MemoryStore) PersistAccountKeyPair(_ context.Context, loginName string, kp model.AccountKeyPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[loginName]; !ok {
		m.keys[loginName] = kp
	}
	return nil
}

func (m *MemoryStore) NotifyIdentityChanged(sign model.MinerSign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signs[sign.ClientID] = sign
	m.notified = append(m.notified, sign)
}

// Notified returns the identity changes seen so far, oldest first.
func (m *MemoryStore) Notified() []model.MinerSign {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.MinerSign(nil), m.notified...)
}

// KeyPairCount 已保存的账号密钥数量
func (m *MemoryStore) KeyPairCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}
