package handler

import (
	"testing"

	"github.com/oxidems/server/internal/net/packet"
	"github.com/oxidems/server/internal/persist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pinConfig = "[login]\nenable_pin = true\nmax_pin_attempts = 2\n"

func afterLogin(step, action byte, pin string) *packet.Packet {
	p := packet.New(packet.C_AFTER_LOGIN)
	p.WriteUint8(step)
	p.WriteUint8(action)
	if pin != "" {
		p.WriteString(pin)
	}
	return p
}

func (h *harness) expectPinMode(mode byte) {
	h.t.Helper()
	p := h.recv(packet.S_CHECK_PINCODE)
	assert.Equal(h.t, mode, p.ReadUint8())
}

func TestPinDisabledAcceptsImmediately(t *testing.T) {
	h := newHarness(t, "")
	h.accounts.add(persist.AccountRow{Name: "alice", PasswordHash: "secret", Gender: 0, AcceptedTOS: true})
	h.login("alice", "secret")

	require.NoError(t, h.send(afterLogin(1, 1, "")))
	h.expectPinMode(pinAccepted)
	assert.True(t, h.sess.PinVerified)
}

func TestPinEntry(t *testing.T) {
	h := newHarness(t, pinConfig)
	h.accounts.add(persist.AccountRow{Name: "alice", PasswordHash: "secret", Gender: 0, AcceptedTOS: true, Pin: "1234"})
	h.login("alice", "secret")
	assert.False(t, h.sess.PinVerified)

	// World list is withheld until the PIN is entered.
	require.NoError(t, h.send(packet.New(packet.C_SERVERLIST_REQUEST)))
	h.expectPinMode(pinEnter)

	require.NoError(t, h.send(afterLogin(1, 1, "")))
	h.expectPinMode(pinEnter)

	require.NoError(t, h.send(afterLogin(1, 0, "0000")))
	h.expectPinMode(pinInvalid)
	assert.False(t, h.sess.PinVerified)

	require.NoError(t, h.send(afterLogin(1, 0, "1234")))
	h.expectPinMode(pinAccepted)
	assert.True(t, h.sess.PinVerified)
	assert.Zero(t, h.sess.PinAttempts)
}

func TestPinAttemptLimit(t *testing.T) {
	h := newHarness(t, pinConfig)
	h.accounts.add(persist.AccountRow{Name: "alice", PasswordHash: "secret", Gender: 0, AcceptedTOS: true, Pin: "1234"})
	h.login("alice", "secret")

	require.NoError(t, h.send(afterLogin(1, 0, "0000")))
	h.expectPinMode(pinInvalid)
	require.NoError(t, h.send(afterLogin(1, 0, "0001")))
	h.expectClosed()
}

func TestPinRegisterNew(t *testing.T) {
	h := newHarness(t, pinConfig)
	h.accounts.add(persist.AccountRow{Name: "alice", PasswordHash: "secret", Gender: 0, AcceptedTOS: true})
	h.login("alice", "secret")

	require.NoError(t, h.send(afterLogin(1, 1, "")))
	h.expectPinMode(pinRegisterNew)

	reg := packet.New(packet.C_REGISTER_PIN)
	reg.WriteUint8(1)
	reg.WriteString("4321")
	require.NoError(t, h.send(reg))
	p := h.recv(packet.S_UPDATE_PINCODE)
	assert.Equal(t, uint8(0), p.ReadUint8())
	assert.Equal(t, "4321", h.accounts.byName["alice"].Pin)
	assert.True(t, h.sess.PinVerified)
}

func TestPinChangeNeedsCurrentPin(t *testing.T) {
	h := newHarness(t, pinConfig)
	h.accounts.add(persist.AccountRow{Name: "alice", PasswordHash: "secret", Gender: 0, AcceptedTOS: true, Pin: "1234"})
	h.login("alice", "secret")

	require.NoError(t, h.send(afterLogin(2, 0, "1234")))
	h.expectPinMode(pinRegisterNew)

	reg := packet.New(packet.C_REGISTER_PIN)
	reg.WriteUint8(1)
	reg.WriteString("9999")
	require.NoError(t, h.send(reg))
	h.recv(packet.S_UPDATE_PINCODE)
	assert.Equal(t, "9999", h.accounts.byName["alice"].Pin)
}

func TestPinRegisterRejectsNonDigits(t *testing.T) {
	h := newHarness(t, pinConfig)
	h.accounts.add(persist.AccountRow{Name: "alice", PasswordHash: "secret", Gender: 0, AcceptedTOS: true})
	h.login("alice", "secret")

	reg := packet.New(packet.C_REGISTER_PIN)
	reg.WriteUint8(1)
	reg.WriteString("12a4")
	require.NoError(t, h.send(reg))
	h.expectClosed()
	assert.Empty(t, h.accounts.byName["alice"].Pin)
}

func TestPinCancelReturnsToLogin(t *testing.T) {
	h := newHarness(t, pinConfig)
	acc := h.accounts.add(persist.AccountRow{Name: "alice", PasswordHash: "secret", Gender: 0, AcceptedTOS: true, Pin: "1234"})
	h.login("alice", "secret")

	require.NoError(t, h.send(afterLogin(0, 5, "")))
	h.expectQuiet()
	assert.Equal(t, packet.StateLoggedOut, h.sess.State())
	assert.Zero(t, h.sess.AccountID)
	assert.Equal(t, persist.LoginStateLoggedOut, h.accounts.lastState(acc.ID))

	// The same connection can log in again.
	h.login("alice", "secret")
}
