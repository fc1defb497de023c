package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type CharacterRow struct {
	ID         int32
	AccountID  int32
	WorldID    int16
	Name       string
	Level      int16
	Job        int16
	Str        int16
	Dex        int16
	Int        int16
	Luk        int16
	HP         int16
	MaxHP      int16
	MP         int16
	MaxMP      int16
	AP         int16
	SP         int16
	Exp        int32
	Fame       int16
	Meso       int32
	Map        int32
	SpawnPoint int16
	Gender     int16
	Skin       int16
	Hair       int32
	Face       int32
	Top        int32
	Bottom     int32
	Shoes      int32
	Weapon     int32
	CreatedAt  time.Time
}

const characterColumns = `id, account_id, world_id, name, level, job,
	str, dex, intelligence, luk, hp, max_hp, mp, max_mp, ap, sp, exp, fame, meso,
	map, spawn_point, gender, skin, hair, face, top, bottom, shoes, weapon, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharacter(s rowScanner, c *CharacterRow) error {
	return s.Scan(
		&c.ID, &c.AccountID, &c.WorldID, &c.Name, &c.Level, &c.Job,
		&c.Str, &c.Dex, &c.Int, &c.Luk, &c.HP, &c.MaxHP, &c.MP, &c.MaxMP, &c.AP, &c.SP, &c.Exp, &c.Fame, &c.Meso,
		&c.Map, &c.SpawnPoint, &c.Gender, &c.Skin, &c.Hair, &c.Face, &c.Top, &c.Bottom, &c.Shoes, &c.Weapon, &c.CreatedAt,
	)
}

type CharacterRepo struct {
	db *DB
}

func NewCharacterRepo(db *DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

// ListByAccount returns an account's characters in one world, oldest first.
func (r *CharacterRepo) ListByAccount(ctx context.Context, accountID int32, worldID int) ([]CharacterRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+characterColumns+`
		 FROM characters
		 WHERE account_id = $1 AND world_id = $2
		 ORDER BY id`, accountID, worldID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CharacterRow
	for rows.Next() {
		var c CharacterRow
		if err := scanCharacter(rows, &c); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Get returns nil, nil when the character does not exist.
func (r *CharacterRepo) Get(ctx context.Context, id int32) (*CharacterRow, error) {
	c := &CharacterRow{}
	err := scanCharacter(r.db.Pool.QueryRow(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE id = $1`, id,
	), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CharacterRepo) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM characters WHERE LOWER(name) = LOWER($1))`, name,
	).Scan(&exists)
	return exists, err
}

// Count returns how many characters an account has in a world.
func (r *CharacterRepo) Count(ctx context.Context, accountID int32, worldID int) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM characters WHERE account_id = $1 AND world_id = $2`,
		accountID, worldID,
	).Scan(&count)
	return count, err
}

// Create inserts c and its starting items in one transaction and fills in
// c.ID and c.CreatedAt.
func (r *CharacterRepo) Create(ctx context.Context, c *CharacterRow, items []int32) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO characters (
			account_id, world_id, name, level, job,
			str, dex, intelligence, luk, hp, max_hp, mp, max_mp, ap, sp, exp, fame, meso,
			map, spawn_point, gender, skin, hair, face, top, bottom, shoes, weapon
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,
			$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28
		) RETURNING id, created_at`,
		c.AccountID, c.WorldID, c.Name, c.Level, c.Job,
		c.Str, c.Dex, c.Int, c.Luk, c.HP, c.MaxHP, c.MP, c.MaxMP, c.AP, c.SP, c.Exp, c.Fame, c.Meso,
		c.Map, c.SpawnPoint, c.Gender, c.Skin, c.Hair, c.Face, c.Top, c.Bottom, c.Shoes, c.Weapon,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert character: %w", err)
	}

	if len(items) > 0 {
		batch := &pgx.Batch{}
		for _, itemID := range items {
			batch.Queue(`INSERT INTO character_items (character_id, item_id) VALUES ($1, $2)`, c.ID, itemID)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert starting items: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Delete removes a character owned by accountID. It reports false when no
// such character exists for that account.
func (r *CharacterRepo) Delete(ctx context.Context, accountID, charID int32) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM characters WHERE id = $1 AND account_id = $2`, charID, accountID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
