package ws

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"MinerWs/logger"
	"MinerWs/module/miner/model"
	"MinerWs/service/identity"
	"MinerWs/service/session"
	"MinerWs/tools/errs"
	"MinerWs/tools/security"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// OnOpen runs the handshake for a freshly opened connection. It returns
// only after the bootstrap envelope has been queued or the connection has
// been closed; no message may be dispatched for conn before that.
func (g *Gateway) OnOpen(ctx context.Context, conn Conn, r *http.Request) (session.Session, error) {
	id, err := g.auth.Authenticate(r)
	if err != nil {
		logger.Info("[WS] handshake rejected", zap.String("conn_id", conn.ID()), zap.Error(err))
		_ = conn.Close(websocket.ClosePolicyViolation, ReasonUnauthorized)
		return session.Session{}, err
	}

	now := g.now()
	sess := session.Session{
		ConnectionID: conn.ID(),
		ClientID:     id.ClientID,
		LoginName:    id.LoginName,
		OuterUserID:  id.OuterUserID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	superseded, err := g.reg.Add(sess)
	if err != nil {
		logger.Error("[WS] register session failed", zap.String("conn_id", conn.ID()), zap.Error(err))
		_ = conn.Close(websocket.CloseInternalServerErr, ReasonInternal)
		return session.Session{}, err
	}
	g.conns.Store(conn.ID(), conn)
	if superseded != nil {
		g.supersede(*superseded)
	}

	g.events.Opened(id.LoginName, id.ClientID)
	g.online(ctx, sess)

	sign, dirty, err := g.loadSign(ctx, id)
	if err != nil {
		return session.Session{}, g.abort(ctx, conn, sess, ReasonStoreUnavailable, err)
	}

	account, err := g.ensureAccount(ctx, id)
	if err != nil {
		reason := ReasonInternal
		if errors.Is(err, errs.ErrStoreUnavailable) {
			reason = ReasonStoreUnavailable
		}
		return session.Session{}, g.abort(ctx, conn, sess, reason, err)
	}

	if sign.NeedRotate(now) {
		pw, err := security.RandomPassword()
		if err != nil {
			return session.Session{}, g.abort(ctx, conn, sess, ReasonInternal,
				errs.ErrInternalServer.WrapMsg("generate shared secret", "err", err))
		}
		sign.Rotate(pw, now)
		dirty = true
	}

	current, ok := g.reg.SetSharedSecret(conn.ID(), sign.AESPassword)
	if !ok {
		// 握手期间连接已关闭或被接管；presence 删除按 conn_id 守护
		g.offline(ctx, sess)
		return session.Session{}, errs.ErrSessionNotFound.WrapMsg("handshake", "conn_id", conn.ID())
	}

	if err := g.sendBootstrap(conn, account, sign.AESPassword); err != nil {
		logger.Warn("[WS] send bootstrap failed", zap.String("conn_id", conn.ID()), zap.Error(err))
	}

	if dirty {
		g.store.NotifyIdentityChanged(*sign)
		g.events.IdentityChanged(*sign)
	}

	logger.Info("[WS] handshake done",
		zap.String("conn_id", conn.ID()),
		zap.String("client_id", id.ClientID),
		zap.String("login_name", id.LoginName),
		zap.Bool("identity_changed", dirty))
	return current, nil
}

// loadSign returns the client's MinerSign, creating or rebinding it as needed.
func (g *Gateway) loadSign(ctx context.Context, id Identity) (*model.MinerSign, bool, error) {
	sign, err := g.store.GetByClientID(ctx, id.ClientID)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return model.NewMinerSign(primitive.NewObjectID().Hex(), id.ClientID, id.LoginName, id.OuterUserID), true, nil
	case err != nil:
		return nil, false, errs.ErrStoreUnavailable.WrapMsg("get miner sign", "client_id", id.ClientID, "err", err)
	}
	sign = sign.Clone()
	dirty := sign.Rebind(id.LoginName, id.OuterUserID)
	return sign, dirty, nil
}

// ensureAccount loads the account key pair, provisioning one on first use.
func (g *Gateway) ensureAccount(ctx context.Context, id Identity) (model.Account, error) {
	account := model.Account{LoginName: id.LoginName, OuterUserID: id.OuterUserID}

	kp, err := g.store.GetAccountKeyPair(ctx, id.LoginName)
	switch {
	case err == nil && kp.IsComplete():
		account.KeyPair = *kp
		return account, nil
	case err == nil:
		// 已有记录但缺一半密钥：只写一次的记录无法补齐，按存储损坏处理
		return account, errs.ErrStoreUnavailable.WrapMsg("account key pair incomplete", "login_name", id.LoginName)
	case !errors.Is(err, identity.ErrNotFound):
		return account, errs.ErrStoreUnavailable.WrapMsg("get account key", "login_name", id.LoginName, "err", err)
	}

	pub, priv, err := security.GenerateKeyPair(g.rsaBits)
	if err != nil {
		return account, errs.ErrInternalServer.WrapMsg("generate account key", "login_name", id.LoginName, "err", err)
	}
	fresh := model.AccountKeyPair{PublicKey: pub, PrivateKey: priv}
	if err := g.store.PersistAccountKeyPair(ctx, id.LoginName, fresh); err != nil {
		return account, errs.ErrStoreUnavailable.WrapMsg("persist account key", "login_name", id.LoginName, "err", err)
	}
	account.KeyPair = fresh
	// 并发首连时以先写入的为准
	if stored, err := g.store.GetAccountKeyPair(ctx, id.LoginName); err == nil && stored.IsComplete() {
		account.KeyPair = *stored
	}
	if account.KeyPair == fresh {
		g.events.AccountKeyProvisioned(id.LoginName, id.ClientID, fresh)
	}
	return account, nil
}

// sendBootstrap sends the public key and the shared secret transformed with
// the account private key, so holders of the public key can recover it.
func (g *Gateway) sendBootstrap(conn Conn, account model.Account, secret string) error {
	priv, err := security.ParsePrivateKey(account.KeyPair.PrivateKey)
	if err != nil {
		return err
	}
	ct, err := security.EncryptWithPrivateKey([]byte(secret), priv)
	if err != nil {
		return err
	}
	env, err := NewEnvelope(TypeUpdateAESPassword, model.AESPassword{
		PublicKey: account.KeyPair.PublicKey,
		Password:  base64.StdEncoding.EncodeToString(ct),
	})
	if err != nil {
		return err
	}
	data, err := env.Seal(secret)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

func (g *Gateway) supersede(old session.Session) {
	if v, ok := g.conns.LoadAndDelete(old.ConnectionID); ok {
		_ = v.(Conn).Close(websocket.CloseNormalClosure, ReasonSuperseded)
	}
	g.events.Closed(old.LoginName, old.ClientID)
	logger.Info("[WS] session superseded",
		zap.String("conn_id", old.ConnectionID),
		zap.String("client_id", old.ClientID))
}

// abort undoes a partially completed handshake.
func (g *Gateway) abort(ctx context.Context, conn Conn, sess session.Session, reason string, cause error) error {
	logger.Error("[WS] handshake failed",
		zap.String("conn_id", sess.ConnectionID),
		zap.String("client_id", sess.ClientID),
		zap.String("reason", reason),
		zap.Error(cause))
	g.conns.CompareAndDelete(conn.ID(), conn)
	if _, ok := g.reg.RemoveByConnectionID(sess.ConnectionID); ok {
		g.events.Closed(sess.LoginName, sess.ClientID)
		g.offline(ctx, sess)
	}
	_ = conn.Close(websocket.CloseInternalServerErr, reason)
	return cause
}
