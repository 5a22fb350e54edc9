// Package store persists coordinator snapshots and dependent entity states in
// sqlite. The schema is managed by embedded golang-migrate migrations.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/BYTE-6D65/movement/pkg/logging"
	"github.com/BYTE-6D65/movement/pkg/movement"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by Load when no snapshot exists for the entity.
var ErrNotFound = errors.New("store: snapshot not found")

// Snapshot is the persisted state of one tracked entity.
type Snapshot struct {
	Entity     string
	Data       movement.MovementData
	History    []movement.HistoryEntry
	Transition []movement.TransitionEntry // nil when no transition is under way
	Walking    movement.TypedMovementData
	Biking     movement.TypedMovementData
	Driving    movement.TypedMovementData
	UpdatedAt  time.Time
}

// Store is a sqlite backed snapshot store.
type Store struct {
	db          *sql.DB
	logger      *slog.Logger
	autoMigrate bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migration output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithAutoMigrate controls whether Open applies pending migrations. It is on
// by default.
func WithAutoMigrate(enabled bool) Option {
	return func(s *Store) {
		s.autoMigrate = enabled
	}
}

// Open opens the sqlite database at path and applies pending migrations.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite allows a single writer; one connection also keeps ":memory:"
	// databases from splitting across the pool
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logging.Logger(), autoMigrate: true}
	for _, opt := range opts {
		opt(s)
	}

	if !s.autoMigrate {
		return s, nil
	}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate runs all pending migrations up to the latest version.
func (s *Store) Migrate() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed since that would close the shared connection

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current migration version and dirty state.
// Returns 0, false, nil if no migrations have been applied yet.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: s.logger}
	return m, nil
}

// migrateLogger implements migrate.Logger on top of slog.
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf("[migrate] "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Save writes snap, replacing any earlier snapshot of the entity. History and
// transition entries beyond the restore limits are dropped.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if len(snap.History) > movement.MaxRestoreHistory {
		snap.History = snap.History[:movement.MaxRestoreHistory]
	}
	if len(snap.Transition) > movement.MaxRestoreTransition {
		snap.Transition = snap.Transition[:movement.MaxRestoreTransition]
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(snap.Data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	history, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	var transition sql.NullString
	if snap.Transition != nil {
		b, err := json.Marshal(snap.Transition)
		if err != nil {
			return fmt.Errorf("encode transition: %w", err)
		}
		transition = sql.NullString{String: string(b), Valid: true}
	}
	typed := make([]string, 3)
	for i, t := range []movement.TypedMovementData{snap.Walking, snap.Biking, snap.Driving} {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode typed data: %w", err)
		}
		typed[i] = string(b)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (entity, data, history, transition, walking, biking, driving, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity) DO UPDATE SET
			data = excluded.data,
			history = excluded.history,
			transition = excluded.transition,
			walking = excluded.walking,
			biking = excluded.biking,
			driving = excluded.driving,
			updated_at = excluded.updated_at`,
		snap.Entity, string(data), string(history), transition,
		typed[0], typed[1], typed[2],
		snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Entity, err)
	}
	return nil
}

// Load reads the snapshot of entity. It returns ErrNotFound when none exists.
func (s *Store) Load(ctx context.Context, entity string) (Snapshot, error) {
	var (
		data, history, walking, biking, driving, updatedAt string
		transition                                         sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT data, history, transition, walking, biking, driving, updated_at
		FROM snapshots WHERE entity = ?`, entity,
	).Scan(&data, &history, &transition, &walking, &biking, &driving, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", entity, err)
	}

	snap := Snapshot{Entity: entity}
	if err := json.Unmarshal([]byte(data), &snap.Data); err != nil {
		return Snapshot{}, fmt.Errorf("decode data: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &snap.History); err != nil {
		return Snapshot{}, fmt.Errorf("decode history: %w", err)
	}
	if transition.Valid {
		snap.Transition = []movement.TransitionEntry{}
		if err := json.Unmarshal([]byte(transition.String), &snap.Transition); err != nil {
			return Snapshot{}, fmt.Errorf("decode transition: %w", err)
		}
	}
	typed := []struct {
		raw string
		dst *movement.TypedMovementData
	}{
		{walking, &snap.Walking},
		{biking, &snap.Biking},
		{driving, &snap.Driving},
	}
	for _, t := range typed {
		if err := json.Unmarshal([]byte(t.raw), t.dst); err != nil {
			return Snapshot{}, fmt.Errorf("decode typed data: %w", err)
		}
	}
	snap.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode updated_at: %w", err)
	}

	if len(snap.History) > movement.MaxRestoreHistory {
		snap.History = snap.History[:movement.MaxRestoreHistory]
	}
	if len(snap.Transition) > movement.MaxRestoreTransition {
		snap.Transition = snap.Transition[:movement.MaxRestoreTransition]
	}
	return snap, nil
}

// Entities returns the entities with a stored snapshot, sorted.
func (s *Store) Entities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity FROM snapshots ORDER BY entity`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var entities []string
	for rows.Next() {
		var entity string
		if err := rows.Scan(&entity); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// Delete removes the snapshot of entity.
func (s *Store) Delete(ctx context.Context, entity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE entity = ?`, entity); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", entity, err)
	}
	return nil
}

// SaveDependent stores the state of a dependent entity as JSON.
func (s *Store) SaveDependent(ctx context.Context, entity string, state any) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode dependent %s: %w", entity, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dependent_states (entity, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(entity) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		entity, string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save dependent %s: %w", entity, err)
	}
	return nil
}

// LoadDependents decodes every stored dependent state into T.
func LoadDependents[T any](ctx context.Context, s *Store) (map[string]T, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity, state FROM dependent_states`)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	defer rows.Close()

	states := make(map[string]T)
	for rows.Next() {
		var entity, raw string
		if err := rows.Scan(&entity, &raw); err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		var state T
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("decode dependent %s: %w", entity, err)
		}
		states[entity] = state
	}
	return states, rows.Err()
}
