package decode

import (
	"encoding/json"
	"reflect"
	"strings"

	"MinerWs/tools/errs"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 是否启用宽松解码（默认 true）：
	// 例如 "123" -> int、1.0 -> int64 等。
	WeaklyTypedInput bool
	// 结构体字段使用的 tag，默认 mapstructure
	TagName string
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	}
}

// WithWeaklyTypedInput 便捷开关。
func WithWeaklyTypedInput(v bool) Options {
	o := DefaultOptions()
	o.WeaklyTypedInput = v
	return o
}

// Decode 把 JSON 负载解码到 T。
// 负载本身是 JSON 字符串（旧版客户端会把对象再序列化一次）时先解开一层。
func Decode[T any](raw json.RawMessage, opts ...Options) (*T, error) {
	var out T
	if err := Into(raw, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// Into 同 Decode，写入调用方给的指针
func Into(raw json.RawMessage, out any, opts ...Options) error {
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}
	if len(raw) == 0 {
		return errs.ErrArgs.WrapMsg("payload empty")
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return errs.ErrArgs.WrapMsg("payload not json", "err", err)
	}
	if s, ok := generic.(string); ok {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal([]byte(trimmed), &generic); err != nil {
				return errs.ErrArgs.WrapMsg("payload string not json", "err", err)
			}
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          cfg.TagName,
		Result:           out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			jsonRawStringToMapHook(),
		),
	})
	if err != nil {
		return errs.WrapMsg(err, "new decoder")
	}
	if err := dec.Decode(generic); err != nil {
		return errs.ErrArgs.WrapMsg("decode payload", "err", err)
	}
	return nil
}

// -----------------------------
// Decode Hooks
// -----------------------------

// floatToIntHook：JSON 数字默认是 float64，带小数时截断为整数。
func floatToIntHook() mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}

// jsonRawStringToMapHook：把 JSON 字符串自动转为 map[string]any（嵌套的字符串 JSON 字段）。
func jsonRawStringToMapHook() mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Map {
			return data, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data.(string)), &m); err == nil {
			return m, nil
		}
		return data, nil
	}
}
