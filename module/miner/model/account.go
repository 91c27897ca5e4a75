package model

// AccountKeyPair 账号级 RSA 公私钥（PEM）。两者要么都有，要么都没有。
type AccountKeyPair struct {
	PublicKey  string `bson:"public_key" json:"PublicKey"`
	PrivateKey string `bson:"private_key" json:"PrivateKey"`
}

func (k *AccountKeyPair) IsComplete() bool {
	return k != nil && k.PublicKey != "" && k.PrivateKey != ""
}

// Account is the identity resolved from the opening request.
type Account struct {
	LoginName   string
	OuterUserID string
	KeyPair     AccountKeyPair
}

// AESPassword 握手下发给矿机的数据
type AESPassword struct {
	PublicKey string `json:"PublicKey" mapstructure:"PublicKey"`
	Password  string `json:"Password" mapstructure:"Password"` // base64(私钥加密后的共享密钥)
}
