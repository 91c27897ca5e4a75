package ws

import (
	"encoding/json"

	"MinerWs/tools/errs"
	"MinerWs/tools/security"

	"github.com/google/uuid"
)

// 服务端下发的消息类型
const (
	TypeUpdateAESPassword = "UpdateAESPassword"
)

// Envelope is the signed unit exchanged after the handshake. Sign is the
// HMAC of the envelope serialized with an empty Sign field.
//
// The signed bytes are the canonical form, not the bytes on the wire:
//
//	{"id":<id>,"type":<type>,"data":<data>,"sign":""}
//
// Fields keep that order, "data" is omitted when empty, data carries no
// insignificant whitespace, and <, > and & inside strings are written as
// \u003c, \u003e and \u0026. Clients sign this form; a frame may be
// formatted any way as long as it decodes to the same values.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Sign string          `json:"sign"`
}

func NewEnvelope(typ string, data any) (*Envelope, error) {
	env := &Envelope{ID: uuid.NewString(), Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, errs.WrapMsg(err, "marshal envelope data", "type", typ)
		}
		env.Data = raw
	}
	return env, nil
}

// DecodeEnvelope parses a frame. A frame without a type is malformed.
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errs.ErrArgs.WrapMsg("decode envelope", "err", err)
	}
	if env.Type == "" {
		return nil, errs.ErrArgs.WrapMsg("envelope type empty")
	}
	return &env, nil
}

func (e *Envelope) signingBytes() ([]byte, error) {
	c := *e
	c.Sign = ""
	return json.Marshal(&c)
}

// Seal signs the envelope with secret and returns the wire bytes.
func (e *Envelope) Seal(secret string) ([]byte, error) {
	payload, err := e.signingBytes()
	if err != nil {
		return nil, err
	}
	e.Sign = security.Sign(secret, payload)
	return json.Marshal(e)
}

func (e *Envelope) Verify(secret string) bool {
	if e.Sign == "" || secret == "" {
		return false
	}
	payload, err := e.signingBytes()
	if err != nil {
		return false
	}
	return security.VerifySign(secret, payload, e.Sign)
}

// DecodeData 把 data 解到 out
func (e *Envelope) DecodeData(out any) error {
	if len(e.Data) == 0 {
		return errs.ErrArgs.WrapMsg("envelope data empty", "type", e.Type)
	}
	return json.Unmarshal(e.Data, out)
}
