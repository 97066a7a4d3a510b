package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"armory/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const suitColumns = `s.id,s.name,s.version,s.created_at,s.updated_at,s.revision,(SELECT COUNT(*) FROM suit_armor a WHERE a.suit_id=s.id) AS size`

func scanSuit(row interface{ Scan(...any) error }) (domain.Suit, error) {
	var s domain.Suit
	err := row.Scan(&s.ID, &s.Name, &s.Version, &s.CreatedAt, &s.UpdatedAt, &s.Revision, &s.Size)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// InsertSuitTx stores a new suit and returns its first revision.
func (r Repo) InsertSuitTx(ctx context.Context, tx *sql.Tx, s domain.Suit) (string, error) {
	revision := uuid.NewString()
	_, err := tx.ExecContext(ctx, `INSERT INTO suits(id,name,version,created_at,updated_at,revision) VALUES (?,?,?,?,?,?)`,
		s.ID, s.Name, s.Version, s.CreatedAt, s.UpdatedAt, revision)
	return revision, err
}

func (r Repo) GetSuit(ctx context.Context, id string) (domain.Suit, error) {
	return getSuit(ctx, r.DB, id)
}

func (r Repo) GetSuitTx(ctx context.Context, tx *sql.Tx, id string) (domain.Suit, error) {
	return getSuit(ctx, tx, id)
}

func getSuit(ctx context.Context, q queryer, id string) (domain.Suit, error) {
	return scanSuit(q.QueryRowContext(ctx, `SELECT `+suitColumns+` FROM suits s WHERE s.id=?`, id))
}

func (r Repo) ListSuits(ctx context.Context) ([]domain.Suit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+suitColumns+` FROM suits s ORDER BY s.created_at DESC, s.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Suit
	for rows.Next() {
		s, err := scanSuit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// TouchSuitTx marks a suit as written and returns its new revision.
func (r Repo) TouchSuitTx(ctx context.Context, tx *sql.Tx, id, updatedAt string) (string, error) {
	revision := uuid.NewString()
	res, err := tx.ExecContext(ctx, `UPDATE suits SET updated_at=?, revision=? WHERE id=?`, updatedAt, revision, id)
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrNotFound
	}
	return revision, nil
}

func (r Repo) SuitRevisionTx(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var revision string
	err := tx.QueryRowContext(ctx, `SELECT revision FROM suits WHERE id=?`, id).Scan(&revision)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return revision, err
}

func (r Repo) DeleteSuitTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM suits WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListArmor returns a suit's records oldest first.
func (r Repo) ListArmor(ctx context.Context, suitID string) ([]domain.ArmorRecord, error) {
	return listArmor(ctx, r.DB, suitID)
}

func (r Repo) ListArmorTx(ctx context.Context, tx *sql.Tx, suitID string) ([]domain.ArmorRecord, error) {
	return listArmor(ctx, tx, suitID)
}

func listArmor(ctx context.Context, q queryer, suitID string) ([]domain.ArmorRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT kind,damaged,power_remaining,count,connected,version FROM suit_armor WHERE suit_id=? ORDER BY position ASC`, suitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ArmorRecord
	for rows.Next() {
		var a domain.ArmorRecord
		if err := rows.Scan(&a.Kind, &a.Damaged, &a.PowerRemaining, &a.Count, &a.Connected, &a.Version); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ReplaceArmorTx rewrites a suit's records; records must be oldest first.
func (r Repo) ReplaceArmorTx(ctx context.Context, tx *sql.Tx, suitID string, records []domain.ArmorRecord) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM suit_armor WHERE suit_id=?`, suitID); err != nil {
		return fmt.Errorf("clear armor: %w", err)
	}
	for i, a := range records {
		if _, err := tx.ExecContext(ctx, `INSERT INTO suit_armor(suit_id,position,kind,damaged,power_remaining,count,connected,version) VALUES (?,?,?,?,?,?,?,?)`,
			suitID, i, a.Kind, a.Damaged, a.PowerRemaining, a.Count, a.Connected, a.Version); err != nil {
			return fmt.Errorf("insert armor %d: %w", i, err)
		}
	}
	return nil
}

// EventFilters narrows LatestEvents.
type EventFilters struct {
	SuitID string
	Type   string
	Limit  int
	// Cursor returns events with IDs below it when set.
	Cursor int64
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.SuitID != "" {
		clauses = append(clauses, "suit_id=?")
		args = append(args, f.SuitID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(suit_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,COALESCE(suit_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SuitID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
