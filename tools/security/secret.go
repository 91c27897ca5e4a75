package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

const (
	PasswordLength = 32
	passwordChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	signKeyInfo    = "minerws envelope sign v1"
)

// RandomPassword 生成新的共享密钥
func RandomPassword() (string, error) {
	buf := make([]byte, PasswordLength)
	max := big.NewInt(int64(len(passwordChars)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = passwordChars[n.Int64()]
	}
	return string(buf), nil
}

// SignKey derives the envelope HMAC key from a shared secret.
func SignKey(secret string) []byte {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(signKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf 只有在输出超过 255*HashLen 时才会失败
		panic(err)
	}
	return key
}

func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, SignKey(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySign(secret string, payload []byte, sign string) bool {
	want, err := hex.DecodeString(sign)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, SignKey(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}
