package ws

import (
	"net/http"
	"strings"

	"MinerWs/tools/errs"
	"MinerWs/tools/safe"
	"MinerWs/tools/security"
)

// Identity is what the opening request resolves to.
type Identity struct {
	LoginName   string
	OuterUserID string
	ClientID    string
}

type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// JWTAuthenticator 从 query/header 读取账号令牌与 clientId
//
//	token:    ?token=xxx 或 Authorization: Bearer xxx
//	clientId: ?clientId=xxx 或 X-Client-Id
type JWTAuthenticator struct {
	opts security.Options
}

func NewJWTAuthenticator(opts security.Options) *JWTAuthenticator {
	return &JWTAuthenticator{opts: opts}
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	clientID := strings.TrimSpace(safe.DefaultString(r.URL.Query().Get("clientId"), r.Header.Get("X-Client-Id")))
	if token == "" || clientID == "" {
		return Identity{}, errs.ErrIdentityUnresolved.WrapMsg("token or clientId missing")
	}

	claims, err := security.Verify(a.opts, token)
	if err != nil {
		// 日志里只留令牌摘要
		return Identity{}, errs.ErrIdentityUnresolved.WrapMsg("verify token", "token", security.HashToken(token), "err", err)
	}
	return Identity{
		LoginName:   claims.LoginName,
		OuterUserID: safe.DefaultString(claims.OuterUserID, claims.LoginName),
		ClientID:    clientID,
	}, nil
}
