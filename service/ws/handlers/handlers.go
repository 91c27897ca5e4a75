// Package handlers holds the message handlers for data miners push to the
// gateway. Each one validates the payload and forwards it to the event
// channel.
package handlers

import (
	"encoding/json"

	"MinerWs/service/ws"
	"MinerWs/tools/decode"
	"MinerWs/tools/errs"
)

// 矿机上报的消息类型
const (
	TypeSpeed             = "Speed"
	TypeLocalMessages     = "LocalMessages"
	TypeOperationResult   = "OperationResult"
	TypeConsoleOutLines   = "ConsoleOutLines"
	TypeDrives            = "Drives"
	TypeLocalIps          = "LocalIps"
	TypeGpuProfilesJson   = "GpuProfilesJson"
	TypeSelfWorkLocalJson = "SelfWorkLocalJson"
)

// Reporter receives validated client reports.
type Reporter interface {
	ClientReported(msgType, loginName, clientID string, payload json.RawMessage)
}

type GpuSpeed struct {
	Index int     `mapstructure:"Index"`
	Speed float64 `mapstructure:"Speed"`
}

// SpeedReport 算力上报
type SpeedReport struct {
	MainCoinCode  string     `mapstructure:"MainCoinCode"`
	MainCoinSpeed float64    `mapstructure:"MainCoinSpeed"`
	DualCoinCode  string     `mapstructure:"DualCoinCode"`
	DualCoinSpeed float64    `mapstructure:"DualCoinSpeed"`
	Gpus          []GpuSpeed `mapstructure:"Gpus"`
}

func (r *SpeedReport) validate() error {
	if r.MainCoinSpeed < 0 || r.DualCoinSpeed < 0 {
		return errs.ErrArgs.WrapMsg("negative speed")
	}
	for _, g := range r.Gpus {
		if g.Index < 0 || g.Speed < 0 {
			return errs.ErrArgs.WrapMsg("bad gpu speed", "index", g.Index)
		}
	}
	return nil
}

// OperationResult 矿机执行远程操作后的回执
type OperationResult struct {
	Timestamp    int64  `mapstructure:"Timestamp"`
	StateCode    int    `mapstructure:"StateCode"`
	ReasonPhrase string `mapstructure:"ReasonPhrase"`
	Description  string `mapstructure:"Description"`
}

func (r *OperationResult) validate() error {
	if r.Timestamp <= 0 {
		return errs.ErrArgs.WrapMsg("operation result timestamp missing")
	}
	return nil
}

// typed 弱类型解码：矿机端数字可能以字符串形式上报
func typed[T interface{ validate() error }](rep Reporter, newT func() T) ws.Handler {
	return func(_ *ws.ConnContext, loginName, clientID string, env *ws.Envelope) error {
		v := newT()
		if err := decode.Into(env.Data, v); err != nil {
			return err
		}
		if err := v.validate(); err != nil {
			return err
		}
		normalized, err := json.Marshal(v)
		if err != nil {
			return err
		}
		rep.ClientReported(env.Type, loginName, clientID, normalized)
		return nil
	}
}

// passthrough 只校验是合法 JSON，原样转发
func passthrough(rep Reporter) ws.Handler {
	return func(_ *ws.ConnContext, loginName, clientID string, env *ws.Envelope) error {
		if len(env.Data) == 0 || !json.Valid(env.Data) {
			return errs.ErrArgs.WrapMsg("payload not json", "type", env.Type)
		}
		rep.ClientReported(env.Type, loginName, clientID, env.Data)
		return nil
	}
}

// Register adds every default handler to t.
func Register(t *ws.HandlerTable, rep Reporter) error {
	table := map[string]ws.Handler{
		TypeSpeed:             typed(rep, func() *SpeedReport { return &SpeedReport{} }),
		TypeOperationResult:   typed(rep, func() *OperationResult { return &OperationResult{} }),
		TypeLocalMessages:     passthrough(rep),
		TypeConsoleOutLines:   passthrough(rep),
		TypeDrives:            passthrough(rep),
		TypeLocalIps:          passthrough(rep),
		TypeGpuProfilesJson:   passthrough(rep),
		TypeSelfWorkLocalJson: passthrough(rep),
	}
	for typ, h := range table {
		if err := t.Register(typ, h); err != nil {
			return err
		}
	}
	return nil
}
