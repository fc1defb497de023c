package packet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	var got []int32
	reg.Register(C_PONG, []SessionState{StateLoggedIn}, HandlerFunc(func(_ context.Context, sess any, p *Packet) error {
		assert.Equal(t, "session", sess)
		got = append(got, p.ReadInt32())
		return nil
	}))
	assert.True(t, reg.Handles(C_PONG))
	assert.False(t, reg.Handles(C_CREATE_CHAR))

	p := New(C_PONG)
	p.WriteInt32(42)
	require.NoError(t, reg.Dispatch(context.Background(), "session", StateLoggedIn, Wrap(p.Bytes())))
	assert.Equal(t, []int32{42}, got)
}

func TestRegistryStateGate(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	called := false
	reg.Register(C_CREATE_CHAR, []SessionState{StateInWorld}, HandlerFunc(func(context.Context, any, *Packet) error {
		called = true
		return nil
	}))

	err := reg.Dispatch(context.Background(), nil, StateLoggedOut, New(C_CREATE_CHAR))
	assert.ErrorIs(t, err, ErrStateNotAllowed)
	assert.False(t, called)
}

func TestRegistryUnknownAndEmpty(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	assert.NoError(t, reg.Dispatch(context.Background(), nil, StateLoggedOut, New(0x7fff)))
	assert.ErrorIs(t, reg.Dispatch(context.Background(), nil, StateLoggedOut, Wrap(nil)), ErrEmptyPacket)
	assert.ErrorIs(t, reg.Dispatch(context.Background(), nil, StateLoggedOut, Wrap([]byte{0x01})), ErrEmptyPacket)
}

func TestRegistryShortBodyReported(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(C_CHECK_CHAR_NAME, []SessionState{StateInWorld}, HandlerFunc(func(_ context.Context, _ any, p *Packet) error {
		_ = p.ReadString()
		return nil
	}))
	err := reg.Dispatch(context.Background(), nil, StateInWorld, New(C_CHECK_CHAR_NAME))
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestRegistryRecoversPanic(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	boom := errors.New("boom")
	reg.Register(C_DELETE_CHAR, []SessionState{StateInWorld}, HandlerFunc(func(context.Context, any, *Packet) error {
		panic(boom)
	}))
	var err error
	assert.NotPanics(t, func() {
		err = reg.Dispatch(context.Background(), nil, StateInWorld, New(C_DELETE_CHAR))
	})
	assert.Error(t, err)
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "LoggedOut", StateLoggedOut.String())
	assert.Equal(t, "InWorld", StateInWorld.String())
	assert.Equal(t, "Unknown(9)", SessionState(9).String())
}
