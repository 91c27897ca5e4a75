package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数。
type Options struct {
	secret *memguard.Enclave // HMAC 密钥，常驻加密内存
	Alg    string            // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration     // 令牌有效期（默认 2h）
	Issuer string
}

// AccountClaims 矿机客户端连接时携带的账号令牌
type AccountClaims struct {
	LoginName   string `json:"login_name"`
	OuterUserID string `json:"uid"`
	jwtlib.RegisteredClaims
}

// NewOptions moves secret into an encrypted enclave; the input slice is
// wiped and must not be reused by the caller.
func NewOptions(secret []byte, alg string, ttl time.Duration) (Options, error) {
	if len(secret) == 0 {
		return Options{}, errors.New("jwt secret empty")
	}
	if _, err := signingMethod(alg); err != nil {
		return Options{}, err
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return Options{secret: memguard.NewEnclave(secret), Alg: alg, TTL: ttl}, nil
}

func (o Options) withSecret(fn func(key []byte) error) error {
	if o.secret == nil {
		return errors.New("jwt secret not configured")
	}
	buf, err := o.secret.Open()
	if err != nil {
		return fmt.Errorf("open jwt secret: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Generate 签发账号令牌（运维命令 token 与测试使用）
func Generate(opts Options, loginName, outerUserID string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := AccountClaims{
		LoginName:   loginName,
		OuterUserID: outerUserID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   loginName,
			Issuer:    opts.Issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}

	tok := jwtlib.NewWithClaims(method, claims)
	err = opts.withSecret(func(key []byte) error {
		token, err = tok.SignedString(key)
		return err
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

func Verify(opts Options, token string) (*AccountClaims, error) {
	if _, err := signingMethod(opts.Alg); err != nil { // 校验 alg 合法
		return nil, err
	}
	claims := &AccountClaims{}
	err := opts.withSecret(func(key []byte) error {
		parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
			// 仅允许 HMAC 家族
			if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
			}
			return key, nil
		})
		if err != nil {
			return err
		}
		if !parsed.Valid {
			return errors.New("invalid token")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claims.LoginName == "" {
		claims.LoginName = claims.Subject
	}
	if claims.LoginName == "" {
		return nil, errors.New("token carries no login name")
	}
	return claims, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
