package handler

import (
	"context"
	stdnet "net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oxidems/server/internal/config"
	"github.com/oxidems/server/internal/data"
	"github.com/oxidems/server/internal/net"
	"github.com/oxidems/server/internal/net/packet"
	"github.com/oxidems/server/internal/persist"
	"github.com/oxidems/server/internal/scripting"
	"github.com/oxidems/server/internal/world"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ── fakes ──

type fakeAccounts struct {
	mu      sync.Mutex
	byName  map[string]*persist.AccountRow
	nextID  int32
	states  map[int32][]int16
	loadErr error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byName: map[string]*persist.AccountRow{}, nextID: 1, states: map[int32][]int16{}}
}

// add stores an account whose password hash is the raw password.
func (f *fakeAccounts) add(row persist.AccountRow) *persist.AccountRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.ID == 0 {
		row.ID = f.nextID
		f.nextID++
	}
	if row.CharacterSlots == 0 {
		row.CharacterSlots = 3
	}
	r := row
	f.byName[strings.ToLower(row.Name)] = &r
	return &r
}

func (f *fakeAccounts) byID(id int32) *persist.AccountRow {
	for _, a := range f.byName {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (f *fakeAccounts) lastState(id int32) int16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.states[id]
	if len(s) == 0 {
		return -1
	}
	return s[len(s)-1]
}

func (f *fakeAccounts) Load(_ context.Context, name string) (*persist.AccountRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	a, ok := f.byName[strings.ToLower(name)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) Create(_ context.Context, name, raw string, slots int16) (*persist.AccountRow, error) {
	a := f.add(persist.AccountRow{
		Name: name, PasswordHash: raw, Gender: persist.GenderUnset,
		AcceptedTOS: true, CharacterSlots: slots,
	})
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) ValidatePassword(hash, raw string) bool { return hash == raw }

func (f *fakeAccounts) SetLoginState(_ context.Context, id int32, state int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = append(f.states[id], state)
	if a := f.byID(id); a != nil {
		a.LoginState = state
	}
	return nil
}

func (f *fakeAccounts) update(id int32, fn func(*persist.AccountRow)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a := f.byID(id); a != nil {
		fn(a)
	}
	return nil
}

func (f *fakeAccounts) UpdatePin(_ context.Context, id int32, pin string) error {
	return f.update(id, func(a *persist.AccountRow) { a.Pin = pin })
}

func (f *fakeAccounts) UpdatePic(_ context.Context, id int32, pic string) error {
	return f.update(id, func(a *persist.AccountRow) { a.Pic = pic })
}

func (f *fakeAccounts) UpdateGender(_ context.Context, id int32, gender int16) error {
	return f.update(id, func(a *persist.AccountRow) { a.Gender = gender })
}

func (f *fakeAccounts) AcceptTOS(_ context.Context, id int32) error {
	return f.update(id, func(a *persist.AccountRow) { a.AcceptedTOS = true })
}

type fakeCharacters struct {
	mu     sync.Mutex
	rows   map[int32]*persist.CharacterRow
	items  map[int32][]int32
	nextID int32
}

func newFakeCharacters() *fakeCharacters {
	return &fakeCharacters{rows: map[int32]*persist.CharacterRow{}, items: map[int32][]int32{}, nextID: 100}
}

func (f *fakeCharacters) ListByAccount(_ context.Context, accountID int32, worldID int) ([]persist.CharacterRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []persist.CharacterRow
	for id := int32(100); id < f.nextID; id++ {
		if c, ok := f.rows[id]; ok && c.AccountID == accountID && int(c.WorldID) == worldID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCharacters) Get(_ context.Context, id int32) (*persist.CharacterRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCharacters) NameExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if strings.EqualFold(c.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCharacters) Count(_ context.Context, accountID int32, worldID int) (int, error) {
	rows, _ := f.ListByAccount(context.Background(), accountID, worldID)
	return len(rows), nil
}

func (f *fakeCharacters) Create(_ context.Context, c *persist.CharacterRow, items []int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.nextID
	f.nextID++
	cp := *c
	f.rows[c.ID] = &cp
	f.items[c.ID] = items
	return nil
}

func (f *fakeCharacters) Delete(_ context.Context, accountID, charID int32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[charID]
	if !ok || c.AccountID != accountID {
		return false, nil
	}
	delete(f.rows, charID)
	return true, nil
}

type defaultFactory struct{}

func (defaultFactory) NewCharacter(createJob int) scripting.NewCharacterData {
	return scripting.DefaultNewCharacter(createJob)
}

// ── harness ──

const testStarterYAML = `
weapons: [{ id: 1302000 }]
tops: [{ id: 1040002 }]
bottoms: [{ id: 1060002 }]
shoes: [{ id: 1072001 }]
hair: [{ id: 30000 }]
faces: [{ id: 20000 }]
`

type harness struct {
	t        *testing.T
	sess     *net.Session
	reg      *packet.Registry
	deps     *Deps
	accounts *fakeAccounts
	chars    *fakeCharacters
	out      chan *packet.Packet
}

// newHarness wires the real registry to fakes and a session whose socket is
// an in-memory pipe. Everything the server sends lands in h.out.
func newHarness(t *testing.T, tomlCfg string) *harness {
	t.Helper()
	cfg, err := config.Parse([]byte(tomlCfg))
	require.NoError(t, err)
	starter, err := data.ParseStarterTable([]byte(testStarterYAML))
	require.NoError(t, err)

	h := &harness{
		t:        t,
		accounts: newFakeAccounts(),
		chars:    newFakeCharacters(),
		out:      make(chan *packet.Packet, 32),
	}
	h.deps = &Deps{
		Accounts:   h.accounts,
		Characters: h.chars,
		Factory:    defaultFactory{},
		Worlds:     world.NewTable(cfg.Worlds),
		Starter:    starter,
		Config:     cfg,
		Log:        zap.NewNop(),
	}
	h.reg = packet.NewRegistry(zap.NewNop())
	RegisterAll(h.reg, h.deps)

	srvRaw, cliRaw := stdnet.Pipe()
	srvConn := net.NewConn(srvRaw, 0, time.Second)
	cliConn := net.NewConn(cliRaw, 0, time.Second)

	hs, err := net.NewHandshake(83, "1", 8)
	require.NoError(t, err)
	errc := make(chan error, 1)
	go func() { errc <- srvConn.Handshake(hs) }()
	_, err = net.ReadHandshake(cliRaw)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	cliConn.UseCodec(hs.ClientCodec())

	go func() {
		for {
			p, err := cliConn.ReadPacket()
			if err != nil {
				close(h.out)
				return
			}
			h.out <- p
		}
	}()

	h.sess = net.NewSession(srvConn, 1, net.NewCoordinator().Subscribe(), 8, zap.NewNop())
	t.Cleanup(func() {
		h.sess.Close()
		cliConn.Close()
	})
	return h
}

// send dispatches a client packet on the session the way Session.Run does.
func (h *harness) send(p *packet.Packet) error {
	return h.reg.Dispatch(context.Background(), h.sess, h.sess.State(), packet.Wrap(p.Bytes()))
}

// recv returns the next server packet and checks its opcode. The cursor is
// left after the opcode.
func (h *harness) recv(op uint16) *packet.Packet {
	h.t.Helper()
	select {
	case p, ok := <-h.out:
		require.True(h.t, ok, "connection closed while waiting for 0x%02X", op)
		require.Equal(h.t, op, p.ReadUint16())
		return p
	case <-time.After(2 * time.Second):
		h.t.Fatalf("no packet 0x%02X", op)
		return nil
	}
}

// expectClosed waits for the client side to see the connection end.
func (h *harness) expectClosed() {
	h.t.Helper()
	require.True(h.t, h.sess.IsClosed())
	select {
	case _, ok := <-h.out:
		require.False(h.t, ok, "unexpected packet before close")
	case <-time.After(2 * time.Second):
		h.t.Fatal("connection still open")
	}
}

// expectQuiet checks that nothing was sent.
func (h *harness) expectQuiet() {
	h.t.Helper()
	select {
	case p := <-h.out:
		h.t.Fatalf("unexpected packet %v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func loginPacket(name, password string) *packet.Packet {
	p := packet.New(packet.C_LOGIN_PASSWORD)
	p.WriteString(name)
	p.WriteString(password)
	p.WriteZero(6)
	p.WriteBytes([]byte{1, 2, 3, 4})
	return p
}

// login runs a successful login for a stored account and drains the reply.
func (h *harness) login(name, password string) {
	h.t.Helper()
	require.NoError(h.t, h.send(loginPacket(name, password)))
	p := h.recv(packet.S_LOGIN_STATUS)
	require.Equal(h.t, int32(0), p.ReadInt32())
	require.Equal(h.t, packet.StateLoggedIn, h.sess.State())
}

func charListPacket(worldID, channelID byte) *packet.Packet {
	p := packet.New(packet.C_CHARLIST_REQUEST)
	p.WriteUint8(2)
	p.WriteUint8(worldID)
	p.WriteUint8(channelID)
	return p
}

// selectWorld picks a world and channel and returns the character count.
func (h *harness) selectWorld(worldID, channelID byte) int {
	h.t.Helper()
	require.NoError(h.t, h.send(charListPacket(worldID, channelID)))
	p := h.recv(packet.S_CHARLIST)
	require.Equal(h.t, uint8(0), p.ReadUint8())
	return int(p.ReadUint8())
}

func TestRegisterAllCoversLoginOpcodes(t *testing.T) {
	h := newHarness(t, "")
	for _, op := range []uint16{
		packet.C_LOGIN_PASSWORD, packet.C_ACCEPT_TOS, packet.C_SET_GENDER,
		packet.C_AFTER_LOGIN, packet.C_REGISTER_PIN,
		packet.C_SERVERLIST_REQUEST, packet.C_SERVERLIST_REREQUEST,
		packet.C_SERVERSTATUS_REQUEST, packet.C_CHARLIST_REQUEST,
		packet.C_CHECK_CHAR_NAME, packet.C_CREATE_CHAR, packet.C_DELETE_CHAR,
		packet.C_CHAR_SELECT, packet.C_CHAR_SELECT_WITH_PIC, packet.C_REGISTER_PIC,
		packet.C_PONG, packet.C_CLIENT_ERROR, packet.C_CLIENT_START_ERROR, packet.C_LOGIN_STARTED,
	} {
		require.True(t, h.reg.Handles(op), "0x%02X", op)
	}
}

func TestStateGate(t *testing.T) {
	h := newHarness(t, "")
	err := h.send(charListPacket(0, 0))
	require.ErrorIs(t, err, packet.ErrStateNotAllowed)
	h.expectQuiet()
}

func TestOnDisconnectReleasesSeatAndAccount(t *testing.T) {
	h := newHarness(t, "")
	acc := h.accounts.add(persist.AccountRow{Name: "alice", PasswordHash: "secret", Gender: 0, AcceptedTOS: true})
	h.login("alice", "secret")
	h.selectWorld(0, 1)

	ch := h.deps.Worlds.Get(0).Channel(1)
	require.Equal(t, 1, ch.Population())

	OnDisconnect(h.deps)(h.sess)
	require.Equal(t, 0, ch.Population())
	require.False(t, h.sess.HasWorld())
	require.Equal(t, persist.LoginStateLoggedOut, h.accounts.lastState(acc.ID))
}

func TestClientErrorAndPongAreQuiet(t *testing.T) {
	h := newHarness(t, "")

	p := packet.New(packet.C_CLIENT_ERROR)
	p.WriteString("crash at 0x0040")
	require.NoError(t, h.send(p))
	require.NoError(t, h.send(packet.New(packet.C_CLIENT_START_ERROR)))
	require.NoError(t, h.send(packet.New(packet.C_PONG)))
	require.NoError(t, h.send(packet.New(packet.C_LOGIN_STARTED)))
	h.expectQuiet()
	require.False(t, h.sess.IsClosed())
}
