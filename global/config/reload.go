package config

import "time"

// HotFields 运行中可生效的字段，其余字段改动需要重启
type HotFields struct {
	LogLevel string
	IdleTTL  time.Duration
}

func (c *AppConfig) Hot() HotFields {
	return HotFields{LogLevel: c.Log.Level, IdleTTL: c.Session.IdleTTL}
}

// Reload parses data over a copy of cur. cur is left untouched when the
// new content is invalid.
func Reload(cur *AppConfig, data []byte) (*AppConfig, error) {
	next := *cur
	if err := Parse(data, &next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}
