package handler

import (
	"context"
	"time"

	"github.com/oxidems/server/internal/config"
	"github.com/oxidems/server/internal/data"
	"github.com/oxidems/server/internal/net"
	"github.com/oxidems/server/internal/net/packet"
	"github.com/oxidems/server/internal/persist"
	"github.com/oxidems/server/internal/scripting"
	"github.com/oxidems/server/internal/world"
	"go.uber.org/zap"
)

// AccountStore is the account persistence used by the login handlers.
// *persist.AccountRepo implements it.
type AccountStore interface {
	Load(ctx context.Context, name string) (*persist.AccountRow, error)
	Create(ctx context.Context, name, rawPassword string, slots int16) (*persist.AccountRow, error)
	ValidatePassword(hash, rawPassword string) bool
	SetLoginState(ctx context.Context, id int32, state int16) error
	UpdatePin(ctx context.Context, id int32, pin string) error
	UpdatePic(ctx context.Context, id int32, pic string) error
	UpdateGender(ctx context.Context, id int32, gender int16) error
	AcceptTOS(ctx context.Context, id int32) error
}

// CharacterStore is the character persistence used by the handlers.
// *persist.CharacterRepo implements it.
type CharacterStore interface {
	ListByAccount(ctx context.Context, accountID int32, worldID int) ([]persist.CharacterRow, error)
	Get(ctx context.Context, id int32) (*persist.CharacterRow, error)
	NameExists(ctx context.Context, name string) (bool, error)
	Count(ctx context.Context, accountID int32, worldID int) (int, error)
	Create(ctx context.Context, c *persist.CharacterRow, items []int32) error
	Delete(ctx context.Context, accountID, charID int32) (bool, error)
}

// CharacterFactory supplies starting state for new characters.
// *scripting.Engine implements it.
type CharacterFactory interface {
	NewCharacter(createJob int) scripting.NewCharacterData
}

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Accounts   AccountStore
	Characters CharacterStore
	Factory    CharacterFactory
	Worlds     *world.Table
	Starter    *data.StarterTable
	Config     *config.Config
	Charset    packet.Charset
	Log        *zap.Logger
}

// dbTimeout bounds each handler's database work.
const dbTimeout = 5 * time.Second

func dbCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, dbTimeout)
}

type handlerFunc func(ctx context.Context, sess *net.Session, p *packet.Packet, deps *Deps) error

func bind(deps *Deps, fn handlerFunc) packet.Handler {
	return packet.HandlerFunc(func(ctx context.Context, sess any, p *packet.Packet) error {
		return fn(ctx, sess.(*net.Session), p, deps)
	})
}

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	loggedOut := []packet.SessionState{packet.StateLoggedOut}
	loggedIn := []packet.SessionState{packet.StateLoggedIn}
	selecting := []packet.SessionState{packet.StateLoggedIn, packet.StateInWorld}
	inWorld := []packet.SessionState{packet.StateInWorld}
	always := []packet.SessionState{packet.StateLoggedOut, packet.StateLoggedIn, packet.StateInWorld}

	// Login phase
	reg.Register(packet.C_LOGIN_PASSWORD, loggedOut, bind(deps, HandleLogin))
	reg.Register(packet.C_ACCEPT_TOS, loggedOut, bind(deps, HandleAcceptTOS))
	reg.Register(packet.C_SET_GENDER, loggedOut, bind(deps, HandleSetGender))

	// PIN
	reg.Register(packet.C_AFTER_LOGIN, loggedIn, bind(deps, HandleAfterLogin))
	reg.Register(packet.C_REGISTER_PIN, loggedIn, bind(deps, HandleRegisterPin))

	// World select
	reg.Register(packet.C_SERVERLIST_REQUEST, selecting, bind(deps, HandleServerList))
	reg.Register(packet.C_SERVERLIST_REREQUEST, selecting, bind(deps, HandleServerList))
	reg.Register(packet.C_SERVERSTATUS_REQUEST, selecting, bind(deps, HandleServerStatus))
	reg.Register(packet.C_CHARLIST_REQUEST, selecting, bind(deps, HandleCharList))

	// Character select
	reg.Register(packet.C_CHECK_CHAR_NAME, inWorld, bind(deps, HandleCheckCharName))
	reg.Register(packet.C_CREATE_CHAR, inWorld, bind(deps, HandleCreateChar))
	reg.Register(packet.C_DELETE_CHAR, inWorld, bind(deps, HandleDeleteChar))
	reg.Register(packet.C_CHAR_SELECT, inWorld, bind(deps, HandleCharSelect))
	reg.Register(packet.C_CHAR_SELECT_WITH_PIC, inWorld, bind(deps, HandleCharSelectWithPic))
	reg.Register(packet.C_REGISTER_PIC, inWorld, bind(deps, HandleRegisterPic))

	// Any state
	reg.Register(packet.C_PONG, always, bind(deps, HandlePong))
	reg.Register(packet.C_CLIENT_ERROR, always, bind(deps, HandleClientError))
	reg.Register(packet.C_CLIENT_START_ERROR, always, bind(deps, HandleClientError))
	reg.Register(packet.C_LOGIN_STARTED, always, bind(deps, HandleLoginStarted))
}

// OnDisconnect returns the server's close hook: the account goes back to
// logged out and the channel seat is released. Runs on the session
// goroutine after its loop ends.
func OnDisconnect(deps *Deps) func(*net.Session) {
	return func(sess *net.Session) {
		if sess.HasWorld() {
			deps.Worlds.Leave(sess.WorldID, sess.ChannelID)
			sess.WorldID, sess.ChannelID = net.NoSelection, net.NoSelection
		}
		if sess.AccountID == 0 {
			return
		}
		ctx, cancel := dbCtx(context.Background())
		defer cancel()
		if err := deps.Accounts.SetLoginState(ctx, sess.AccountID, persist.LoginStateLoggedOut); err != nil {
			sess.Log().Error("reset login state failed", zap.String("account", sess.AccountName), zap.Error(err))
		}
	}
}
