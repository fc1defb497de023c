package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// Login states stored in accounts.login_state.
const (
	LoginStateLoggedOut     int16 = 0
	LoginStateTransitioning int16 = 1 // handed off to a channel server
	LoginStateLoggedIn      int16 = 2
)

// GenderUnset is stored until the player picks a gender on first login.
const GenderUnset = 10

type AccountRow struct {
	ID             int32
	Name           string
	PasswordHash   string
	Pin            string
	Pic            string
	Gender         int16
	GM             bool
	LoginState     int16
	Banned         bool
	AcceptedTOS    bool
	CharacterSlots int16
	LastLogin      *time.Time
	CreatedAt      time.Time
}

type AccountRepo struct {
	db *DB
}

func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Load returns nil, nil when the account does not exist.
func (r *AccountRepo) Load(ctx context.Context, name string) (*AccountRow, error) {
	row := &AccountRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, name, password_hash, pin, pic, gender, gm, login_state,
		        banned, accepted_tos, character_slots, last_login, created_at
		 FROM accounts WHERE name = $1`, name,
	).Scan(
		&row.ID, &row.Name, &row.PasswordHash, &row.Pin, &row.Pic, &row.Gender, &row.GM, &row.LoginState,
		&row.Banned, &row.AcceptedTOS, &row.CharacterSlots, &row.LastLogin, &row.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Create registers a new account. Auto-registered accounts have accepted the
// terms implicitly.
func (r *AccountRepo) Create(ctx context.Context, name, rawPassword string, slots int16) (*AccountRow, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	row := &AccountRow{
		Name:           name,
		PasswordHash:   string(hash),
		Gender:         GenderUnset,
		AcceptedTOS:    true,
		CharacterSlots: slots,
	}
	err = r.db.Pool.QueryRow(ctx,
		`INSERT INTO accounts (name, password_hash, gender, accepted_tos, character_slots)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		row.Name, row.PasswordHash, row.Gender, row.AcceptedTOS, row.CharacterSlots,
	).Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *AccountRepo) ValidatePassword(hash string, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawPassword)) == nil
}

// SetLoginState records the login state and stamps last_login.
func (r *AccountRepo) SetLoginState(ctx context.Context, id int32, state int16) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE accounts SET login_state = $2, last_login = NOW() WHERE id = $1`,
		id, state,
	)
	return err
}

func (r *AccountRepo) UpdatePin(ctx context.Context, id int32, pin string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE accounts SET pin = $2 WHERE id = $1`, id, pin)
	return err
}

func (r *AccountRepo) UpdatePic(ctx context.Context, id int32, pic string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE accounts SET pic = $2 WHERE id = $1`, id, pic)
	return err
}

func (r *AccountRepo) UpdateGender(ctx context.Context, id int32, gender int16) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE accounts SET gender = $2 WHERE id = $1`, id, gender)
	return err
}

func (r *AccountRepo) AcceptTOS(ctx context.Context, id int32) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE accounts SET accepted_tos = TRUE WHERE id = $1`, id)
	return err
}

// LogoutAll resets every account still marked online. Run once no session
// is left, at shutdown and again at startup after a crash.
func (r *AccountRepo) LogoutAll(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE accounts SET login_state = 0, last_login = NOW() WHERE login_state <> 0`,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
