package model

import (
	"time"
)

// SecretRotateWindow 共享密钥最长使用期限，超过后在下一次连接时轮换
const SecretRotateWindow = 24 * time.Hour

// UnixBaseTime 表示“从未签发”的时间
var UnixBaseTime = time.Unix(0, 0).UTC()

// MinerSign 矿机的持久化身份绑定：clientId -> 账号 + 当前共享密钥。
// 比任意一次连接都长寿；本服务从不删除。
type MinerSign struct {
	ID            string    `bson:"_id" json:"Id"`                      // 持久化主键（ObjectID hex）
	ClientID      string    `bson:"client_id" json:"ClientId"`          // 矿机唯一标识，重连不变
	LoginName     string    `bson:"login_name" json:"LoginName"`        // 连接时的登录名
	OuterUserID   string    `bson:"outer_user_id" json:"OuterUserId"`   // 所属账号ID
	AESPassword   string    `bson:"aes_password" json:"AESPassword"`    // 共享密钥，空表示未签发
	AESPasswordOn time.Time `bson:"aes_password_on" json:"AESPasswordOn"` // 签发时间
}

// NewMinerSign builds the record for a client id seen for the first time.
func NewMinerSign(id, clientID, loginName, outerUserID string) *MinerSign {
	return &MinerSign{
		ID:            id,
		ClientID:      clientID,
		LoginName:     loginName,
		OuterUserID:   outerUserID,
		AESPassword:   "",
		AESPasswordOn: UnixBaseTime,
	}
}

// Rebind updates the account binding and reports whether anything changed.
func (s *MinerSign) Rebind(loginName, outerUserID string) bool {
	if s.LoginName == loginName && s.OuterUserID == outerUserID {
		return false
	}
	s.LoginName = loginName
	s.OuterUserID = outerUserID
	return true
}

// NeedRotate 密钥为空或者已超过轮换窗口
func (s *MinerSign) NeedRotate(now time.Time) bool {
	return s.AESPassword == "" || s.AESPasswordOn.Add(SecretRotateWindow).Before(now)
}

func (s *MinerSign) Rotate(password string, now time.Time) {
	s.AESPassword = password
	s.AESPasswordOn = now
}

func (s *MinerSign) Clone() *MinerSign {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *MinerSign) GetTableName() string {
	return "miner_sign"
}
