// Package identity holds the contract between the handshake and the
// persistent per-client identity records, plus the backends that serve it.
package identity

import (
	"context"
	"time"

	"MinerWs/logger"
	"MinerWs/module/miner/model"
	"MinerWs/tools/errs"
	"MinerWs/tools/safe"

	"go.uber.org/zap"
)

// ErrNotFound is returned by getters when no record exists. Any other
// getter error means the store is unavailable.
var ErrNotFound = errs.ErrRecordNotFound

// Store is what the handshake consumes.
type Store interface {
	GetByClientID(ctx context.Context, clientID string) (*model.MinerSign, error)
	GetAccountKeyPair(ctx context.Context, loginName string) (*model.AccountKeyPair, error)
	PersistAccountKeyPair(ctx context.Context, loginName string, kp model.AccountKeyPair) error
	// NotifyIdentityChanged must not block on persistence.
	NotifyIdentityChanged(sign model.MinerSign)
}

// SignStore persists MinerSign records keyed by client id.
type SignStore interface {
	GetByClientID(ctx context.Context, clientID string) (*model.MinerSign, error)
	SaveSign(ctx context.Context, sign model.MinerSign) error
}

// AccountStore persists per-account key pairs. PersistAccountKeyPair keeps
// the first pair written for a login name.
type AccountStore interface {
	GetAccountKeyPair(ctx context.Context, loginName string) (*model.AccountKeyPair, error)
	PersistAccountKeyPair(ctx context.Context, loginName string, kp model.AccountKeyPair) error
}

const defaultPersistTimeout = 5 * time.Second

// Composite joins a SignStore and an AccountStore into a Store; identity
// changes are written back on a background goroutine.
type Composite struct {
	signs          SignStore
	accounts       AccountStore
	persistTimeout time.Duration
}

var _ Store = (*Composite)(nil)

func NewComposite(signs SignStore, accounts AccountStore, persistTimeout time.Duration) *Composite {
	safe.MustNotNil(signs, "signs")
	safe.MustNotNil(accounts, "accounts")
	if persistTimeout <= 0 {
		persistTimeout = defaultPersistTimeout
	}
	return &Composite{signs: signs, accounts: accounts, persistTimeout: persistTimeout}
}

func (c *Composite) GetByClientID(ctx context.Context, clientID string) (*model.MinerSign, error) {
	return c.signs.GetByClientID(ctx, clientID)
}

func (c *Composite) GetAccountKeyPair(ctx context.Context, loginName string) (*model.AccountKeyPair, error) {
	return c.accounts.GetAccountKeyPair(ctx, loginName)
}

func (c *Composite) PersistAccountKeyPair(ctx context.Context, loginName string, kp model.AccountKeyPair) error {
	return c.accounts.PersistAccountKeyPair(ctx, loginName, kp)
}

func (c *Composite) NotifyIdentityChanged(sign model.MinerSign) {
	persistAsync(c.persistTimeout, sign, c.signs.SaveSign)
}

func persistAsync(timeout time.Duration, sign model.MinerSign, save func(context.Context, model.MinerSign) error) {
	safe.Go("persist miner sign", func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := save(ctx, sign); err != nil {
			logger.Error("[identity] persist miner sign failed",
				zap.String("client_id", sign.ClientID),
				zap.String("login_name", sign.LoginName),
				zap.Error(err))
			return
		}
		logger.Debug("[identity] miner sign persisted", zap.String("client_id", sign.ClientID))
	})
}
