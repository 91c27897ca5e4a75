package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"MinerWs/tools/errs"

	"github.com/gin-gonic/gin"
)

// CtxAdminKey 通过校验后写入 context 的标记
const CtxAdminKey = "admin"

type Options struct {
	HeaderToken               string // 默认 "X-Admin-Token"
	EnableAuthorizationBearer bool   // 默认 true
	Token                     string // 期望的管理令牌；空表示不校验
}

func DefaultOptions(token string) *Options {
	return &Options{
		HeaderToken:               "X-Admin-Token",
		EnableAuthorizationBearer: true,
		Token:                     token,
	}
}

// Middleware guards management routes with a static admin token.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions("")
	}
	return func(c *gin.Context) {
		if opts.Token == "" {
			c.Next()
			return
		}
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

		// 兼容 Authorization: Bearer xxx
		if token == "" && opts.EnableAuthorizationBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(opts.Token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrNoPermission)
			return
		}
		c.Set(CtxAdminKey, true)
		c.Next()
	}
}
