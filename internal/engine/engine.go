package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"armory/internal/armor"
	"armory/internal/config"
	"armory/internal/domain"
	"armory/internal/events"
	"armory/internal/repo"
)

// ErrSuitExists is returned when creating a suit whose ID is taken.
var ErrSuitExists = errors.New("suit already exists")

// ValidationError reports unusable input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Engine owns the live suits and keeps them in step with the database.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Logger *log.Logger

	suits *registry
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		suits:  newRegistry(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) defaultVersion() int {
	if e.Config == nil {
		return 1
	}
	return e.Config.Suits.DefaultVersion
}

// SuitCreateOptions are parameters for creating a suit.
type SuitCreateOptions struct {
	ID      string
	Name    string
	Version *int
	ActorID string
}

func (e Engine) CreateSuit(ctx context.Context, opts SuitCreateOptions) (domain.Suit, error) {
	opts.ID = strings.TrimSpace(opts.ID)
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}
	version := e.defaultVersion()
	if opts.Version != nil {
		version = *opts.Version
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Suit{
		ID:        opts.ID,
		Name:      opts.Name,
		Version:   version,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Suit{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetSuitTx(ctx, tx, s.ID); err == nil {
		return domain.Suit{}, fmt.Errorf("%w: %s", ErrSuitExists, s.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Suit{}, err
	}
	if s.Revision, err = e.Repo.InsertSuitTx(ctx, tx, s); err != nil {
		return domain.Suit{}, fmt.Errorf("insert suit: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.SuitCreated, s.ID, actorOrDefault(opts.ActorID), events.EventPayload{
		"name":    s.Name,
		"version": s.Version,
	}); err != nil {
		return domain.Suit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Suit{}, err
	}
	return s, nil
}

// GetSuit returns the stored suit with its armor, head first.
func (e Engine) GetSuit(ctx context.Context, id string) (domain.Suit, error) {
	s, err := e.Repo.GetSuit(ctx, id)
	if err != nil {
		return domain.Suit{}, err
	}
	records, err := e.Repo.ListArmor(ctx, id)
	if err != nil {
		return domain.Suit{}, err
	}
	s.Armor = headFirst(records)
	return s, nil
}

func (e Engine) ListSuits(ctx context.Context) ([]domain.Suit, error) {
	return e.Repo.ListSuits(ctx)
}

func (e Engine) DeleteSuit(ctx context.Context, id, actorID string) error {
	ent := e.suits.acquire(id)
	defer e.suits.release(id, ent)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSuitTx(ctx, tx, id); err != nil {
		ent.suit = nil
		return err
	}
	if err := e.Events.Append(ctx, tx, events.SuitDeleted, id, actorOrDefault(actorID), nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	ent.suit = nil
	return nil
}

// PushArmor adds a record on top of the suit's list. Versions are not
// checked here; see CheckCompatibility.
func (e Engine) PushArmor(ctx context.Context, suitID string, a armor.Armor, actorID string) (domain.Suit, error) {
	if !a.Component.Kind.Valid() {
		return domain.Suit{}, ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown component kind %q", a.Component.Kind)}
	}
	a.Component = a.Component.Normalize()
	var out domain.Suit
	err := e.mutate(ctx, suitID, func(tx *sql.Tx, rec domain.Suit, s *armor.Suit) error {
		s.Armor.Push(a)
		var err error
		out, err = e.persist(ctx, tx, rec, s)
		if err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ArmorPushed, suitID, actorOrDefault(actorID), events.EventPayload{
			"kind":    string(a.Component.Kind),
			"version": a.Version,
			"size":    out.Size,
		})
	})
	return out, err
}

// PopArmor removes the newest record. The bool is false when the suit is empty.
func (e Engine) PopArmor(ctx context.Context, suitID, actorID string) (armor.Armor, bool, error) {
	var (
		popped armor.Armor
		found  bool
	)
	err := e.mutate(ctx, suitID, func(tx *sql.Tx, rec domain.Suit, s *armor.Suit) error {
		popped, found = s.Armor.Pop()
		if !found {
			return nil
		}
		out, err := e.persist(ctx, tx, rec, s)
		if err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ArmorPopped, suitID, actorOrDefault(actorID), events.EventPayload{
			"kind":    string(popped.Component.Kind),
			"version": popped.Version,
			"size":    out.Size,
		})
	})
	if err != nil {
		return armor.Armor{}, false, err
	}
	return popped, found, nil
}

// PeekArmor returns the newest record without removing it.
func (e Engine) PeekArmor(ctx context.Context, suitID string) (armor.Armor, bool, error) {
	var (
		head  armor.Armor
		found bool
	)
	err := e.read(ctx, suitID, func(_ domain.Suit, s *armor.Suit) {
		head, found = s.Armor.Peek()
	})
	if err != nil {
		return armor.Armor{}, false, err
	}
	return head, found, nil
}

func (e Engine) CheckCompatibility(ctx context.Context, suitID string) (domain.Compatibility, error) {
	var out domain.Compatibility
	err := e.read(ctx, suitID, func(rec domain.Suit, s *armor.Suit) {
		out = domain.Compatibility{
			SuitID:     rec.ID,
			Version:    s.Version,
			Size:       s.Armor.Size(),
			Compatible: s.IsCompatible(),
		}
	})
	return out, err
}

// RepairSuit runs the repair pass and stores the result when anything changed.
func (e Engine) RepairSuit(ctx context.Context, suitID, actorID string) (domain.RepairReport, error) {
	report := domain.RepairReport{SuitID: suitID}
	err := e.mutate(ctx, suitID, func(tx *sql.Tx, rec domain.Suit, s *armor.Suit) error {
		report.Repaired = s.Repair()
		if report.Repaired == 0 {
			report.Suit = suitView(rec, s)
			return nil
		}
		var err error
		report.Suit, err = e.persist(ctx, tx, rec, s)
		if err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.SuitRepaired, suitID, actorOrDefault(actorID), events.EventPayload{
			"repaired": report.Repaired,
		})
	})
	return report, err
}

// persist writes the live suit back and returns its stored view.
func (e Engine) persist(ctx context.Context, tx *sql.Tx, rec domain.Suit, s *armor.Suit) (domain.Suit, error) {
	view := suitView(rec, s)
	if err := e.Repo.ReplaceArmorTx(ctx, tx, rec.ID, oldestFirst(view.Armor)); err != nil {
		return domain.Suit{}, err
	}
	view.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	revision, err := e.Repo.TouchSuitTx(ctx, tx, rec.ID, view.UpdatedAt)
	if err != nil {
		return domain.Suit{}, err
	}
	view.Revision = revision
	return view, nil
}

func actorOrDefault(actorID string) string {
	if strings.TrimSpace(actorID) == "" {
		return "local-user"
	}
	return actorID
}
