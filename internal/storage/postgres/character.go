package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/piratewind/worldcore/internal/game/character"
)

// ErrCharacterNotFound is returned when a character lookup yields no results.
var ErrCharacterNotFound = errors.New("character not found")

// ErrCharacterNameTaken is returned when creating a character with a name
// already used on the shard.
var ErrCharacterNameTaken = errors.New("character name already taken")

// CharacterRepository provides character persistence operations.
type CharacterRepository struct {
	db *pgxpool.Pool
}

// NewCharacterRepository creates a CharacterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCharacterRepository(db *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{db: db}
}

const characterColumns = `
	id, user_id, shard_id, name, class_id, level, xp,
	x, y, z, rot_y, last_region_id,
	attributes, inventory, equipment, spellbook, abilities, progression,
	recent_crime_until, recent_crime_severity,
	max_hp, current_hp, created_at, updated_at`

// scanCharacter decodes one row into a Character, unpacking the jsonb columns.
func scanCharacter(row pgx.Row) (*character.Character, error) {
	var (
		c                                                     character.Character
		attrs, inv, equip, spells, abilities, progression     []byte
		crimeUntil                                            *time.Time
		crimeSeverity                                         string
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.ShardID, &c.Name, &c.ClassID, &c.Level, &c.XP,
		&c.X, &c.Y, &c.Z, &c.RotY, &c.LastRegionID,
		&attrs, &inv, &equip, &spells, &abilities, &progression,
		&crimeUntil, &crimeSeverity,
		&c.MaxHP, &c.CurrentHP, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, col := range []struct {
		raw []byte
		dst any
	}{
		{attrs, &c.Attributes},
		{inv, &c.Inventory},
		{equip, &c.Equipment},
		{spells, &c.Spellbook},
		{abilities, &c.Abilities},
		{progression, &c.Progression},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return nil, fmt.Errorf("decoding character json column: %w", err)
		}
	}
	if crimeUntil != nil {
		c.RecentCrimeUntil = *crimeUntil
	}
	c.RecentCrimeSeverity = character.CrimeSeverity(crimeSeverity)
	if c.RecentCrimeSeverity == "" {
		c.RecentCrimeSeverity = character.CrimeNone
	}
	return &c, nil
}

func encodeJSONColumns(c *character.Character) (attrs, inv, equip, spells, abilities, progression []byte, err error) {
	if attrs, err = json.Marshal(c.Attributes); err != nil {
		return
	}
	if inv, err = json.Marshal(c.Inventory); err != nil {
		return
	}
	if equip, err = json.Marshal(c.Equipment); err != nil {
		return
	}
	if spells, err = json.Marshal(c.Spellbook); err != nil {
		return
	}
	if abilities, err = json.Marshal(c.Abilities); err != nil {
		return
	}
	progression, err = json.Marshal(c.Progression)
	return
}

// Create inserts a new character and returns it with ID and timestamps set.
//
// Precondition: c.UserID must reference an existing user; c.Name must be non-empty.
// Postcondition: Returns the created character with ID set, or
// ErrCharacterNameTaken on duplicate.
func (r *CharacterRepository) Create(ctx context.Context, c *character.Character) (*character.Character, error) {
	attrs, inv, equip, spells, abilities, progression, err := encodeJSONColumns(c)
	if err != nil {
		return nil, fmt.Errorf("encoding character json columns: %w", err)
	}
	var crimeUntil *time.Time
	if !c.RecentCrimeUntil.IsZero() {
		crimeUntil = &c.RecentCrimeUntil
	}
	severity := c.RecentCrimeSeverity
	if severity == "" {
		severity = character.CrimeNone
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO characters
			(user_id, shard_id, name, class_id, level, xp,
			 x, y, z, rot_y, last_region_id,
			 attributes, inventory, equipment, spellbook, abilities, progression,
			 recent_crime_until, recent_crime_severity,
			 max_hp, current_hp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING`+characterColumns,
		c.UserID, c.ShardID, c.Name, c.ClassID, c.Level, c.XP,
		c.X, c.Y, c.Z, c.RotY, c.LastRegionID,
		attrs, inv, equip, spells, abilities, progression,
		crimeUntil, string(severity),
		c.MaxHP, c.CurrentHP,
	)
	out, err := scanCharacter(row)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrCharacterNameTaken
		}
		return nil, fmt.Errorf("inserting character: %w", err)
	}
	return out, nil
}

// GetByID retrieves a character by its primary key.
//
// Precondition: id must be > 0.
// Postcondition: Returns the Character or ErrCharacterNotFound.
func (r *CharacterRepository) GetByID(ctx context.Context, id int64) (*character.Character, error) {
	row := r.db.QueryRow(ctx,
		`SELECT`+characterColumns+` FROM characters WHERE id = $1`, id)
	c, err := scanCharacter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("querying character: %w", err)
	}
	return c, nil
}

// ListByUser returns all characters for the given user, ordered by created_at.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *CharacterRepository) ListByUser(ctx context.Context, userID int64) ([]*character.Character, error) {
	rows, err := r.db.Query(ctx,
		`SELECT`+characterColumns+` FROM characters WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	defer rows.Close()

	chars := make([]*character.Character, 0)
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning character row: %w", err)
		}
		chars = append(chars, c)
	}
	return chars, rows.Err()
}

// Save persists the full mutable state of a character.
//
// Postcondition: Returns nil on success, ErrCharacterNotFound if no row updated.
func (r *CharacterRepository) Save(ctx context.Context, c *character.Character) error {
	attrs, inv, equip, spells, abilities, progression, err := encodeJSONColumns(c)
	if err != nil {
		return fmt.Errorf("encoding character json columns: %w", err)
	}
	var crimeUntil *time.Time
	if !c.RecentCrimeUntil.IsZero() {
		crimeUntil = &c.RecentCrimeUntil
	}
	severity := c.RecentCrimeSeverity
	if severity == "" {
		severity = character.CrimeNone
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE characters SET
			level = $2, xp = $3,
			x = $4, y = $5, z = $6, rot_y = $7, last_region_id = $8,
			attributes = $9, inventory = $10, equipment = $11,
			spellbook = $12, abilities = $13, progression = $14,
			recent_crime_until = $15, recent_crime_severity = $16,
			max_hp = $17, current_hp = $18, updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.Level, c.XP,
		c.X, c.Y, c.Z, c.RotY, c.LastRegionID,
		attrs, inv, equip, spells, abilities, progression,
		crimeUntil, string(severity),
		c.MaxHP, c.CurrentHP,
	)
	if err != nil {
		return fmt.Errorf("saving character: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCharacterNotFound
	}
	return nil
}

// GrantXp atomically adds xp to a character.
//
// Precondition: id must be > 0; amount must be >= 0.
// Postcondition: Returns the new xp total, or ErrCharacterNotFound.
func (r *CharacterRepository) GrantXp(ctx context.Context, id int64, amount int64) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		UPDATE characters SET xp = xp + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING xp`,
		id, amount,
	).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCharacterNotFound
		}
		return 0, fmt.Errorf("granting xp: %w", err)
	}
	return total, nil
}

// SavePosition persists only the character's pose and current region.
//
// Postcondition: Returns nil on success, ErrCharacterNotFound if no row updated.
func (r *CharacterRepository) SavePosition(ctx context.Context, id int64, x, y, z, rotY float64, regionID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE characters SET
			x = $2, y = $3, z = $4, rot_y = $5, last_region_id = $6, updated_at = NOW()
		WHERE id = $1`,
		id, x, y, z, rotY, regionID,
	)
	if err != nil {
		return fmt.Errorf("saving character position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCharacterNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
