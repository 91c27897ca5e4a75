package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMsgKeepsCode(t *testing.T) {
	err := ErrSessionNotFound.WrapMsg("lookup", "conn_id", "42")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.False(t, errors.Is(err, ErrStoreUnavailable))
	assert.Equal(t, SessionNotFoundError, CodeOf(err))
	assert.Contains(t, err.Error(), "conn_id=42")
}

func TestWrapChainFindsCode(t *testing.T) {
	inner := ErrStoreUnavailable.WrapMsg("mongo down")
	outer := fmt.Errorf("handshake: %w", WrapMsg(inner, "get sign", "client_id", "C1"))

	assert.True(t, errors.Is(outer, ErrStoreUnavailable))
	assert.Equal(t, StoreUnavailableError, CodeOf(outer))
	assert.Zero(t, CodeOf(errors.New("plain")))
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	d := ErrArgs.WithDetail("clientId empty")

	assert.Equal(t, "clientId empty", d.Detail)
	assert.Empty(t, ErrArgs.Detail)
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))

	err := ErrPanic("boom")
	require.Error(t, err)
	assert.Equal(t, ServerInternalError, CodeOf(err))
	assert.Contains(t, err.Error(), "boom")

	err = ErrPanic(errors.New("nil map"))
	assert.Contains(t, err.Error(), "nil map")
}

func TestToStringOddArgs(t *testing.T) {
	assert.Equal(t, "msg, a=1, b=MISSING", toString("msg", []any{"a", 1, "b"}))
	assert.Equal(t, "msg", toString("msg", nil))
}
