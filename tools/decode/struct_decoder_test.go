package decode

import (
	"encoding/json"
	"testing"

	"MinerWs/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Count int            `mapstructure:"Count"`
	Ratio float64        `mapstructure:"Ratio"`
	Name  string         `mapstructure:"Name"`
	Extra map[string]any `mapstructure:"Extra"`
}

func TestDecodeWeak(t *testing.T) {
	p, err := Decode[payload](json.RawMessage(`{"Count":"12","Ratio":"0.5","Name":7,"Extra":"{\"k\":1}"}`))
	require.NoError(t, err)
	assert.Equal(t, 12, p.Count)
	assert.Equal(t, 0.5, p.Ratio)
	assert.Equal(t, "7", p.Name)
	assert.Equal(t, map[string]any{"k": float64(1)}, p.Extra)
}

func TestDecodeFloatToInt(t *testing.T) {
	p, err := Decode[payload](json.RawMessage(`{"Count":3.9}`))
	require.NoError(t, err)
	assert.Equal(t, 3, p.Count)
}

func TestDecodeStringWrappedObject(t *testing.T) {
	p, err := Decode[payload](json.RawMessage(`"{\"Count\":2,\"Name\":\"rig\"}"`))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Count)
	assert.Equal(t, "rig", p.Name)
}

func TestDecodeStrict(t *testing.T) {
	_, err := Decode[payload](json.RawMessage(`{"Count":"12"}`), WithWeaklyTypedInput(false))
	assert.ErrorIs(t, err, errs.ErrArgs)
}

func TestDecodeBadInput(t *testing.T) {
	for _, raw := range []string{``, `{`, `"{oops"`, `[1,2]`} {
		_, err := Decode[payload](json.RawMessage(raw))
		assert.ErrorIs(t, err, errs.ErrArgs, raw)
	}
}
