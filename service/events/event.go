// Package events fans connection lifecycle notifications out to an external
// channel. Delivery is best effort: failures are logged and never retried.
package events

import (
	"context"
	"encoding/json"
	"time"

	"MinerWs/module/miner/model"
)

type Kind string

const (
	KindOpened                Kind = "opened"
	KindClosed                Kind = "closed"
	KindBreathed              Kind = "breathed"
	KindIdentityChanged       Kind = "identityChanged"
	KindAccountKeyProvisioned Kind = "accountKeyProvisioned"
	KindClientReported        Kind = "clientReported"
)

// Event 对外发布的统一结构
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Node      string          `json:"node,omitempty"`
	LoginName string          `json:"login_name"`
	ClientID  string          `json:"client_id"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Publisher is the event channel. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// SignView is the identityChanged payload. The shared secret is never
// published.
type SignView struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"client_id"`
	LoginName     string    `json:"login_name"`
	OuterUserID   string    `json:"outer_user_id"`
	AESPasswordOn time.Time `json:"aes_password_on"`
}

func NewSignView(s model.MinerSign) SignView {
	return SignView{
		ID:            s.ID,
		ClientID:      s.ClientID,
		LoginName:     s.LoginName,
		OuterUserID:   s.OuterUserID,
		AESPasswordOn: s.AESPasswordOn,
	}
}

// KeyProvisionedView 只发布公钥
type KeyProvisionedView struct {
	PublicKey string `json:"public_key"`
}

// Reported wraps data a client pushed through a handler.
type Reported struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Subject returns the channel name for kind under prefix, e.g. "miner.opened".
func Subject(prefix string, kind Kind) string {
	if prefix == "" {
		return string(kind)
	}
	return prefix + "." + string(kind)
}
