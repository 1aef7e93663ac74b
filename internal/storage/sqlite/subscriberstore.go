// Package sqlite implements the durable SubscriberStore on a single SQL
// table, keyed by subscriber name.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/coregx/relica"
	"github.com/jonboulle/clockwork"

	"github.com/tinywideclouds/go-reengagement-service/pkg/dispatch"
	"github.com/tinywideclouds/go-reengagement-service/pkg/subscriber"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const tableName = "reengage_subscriber"

// Store implements dispatch.SubscriberStore on top of database/sql via
// Relica. Every mutation is a single-row statement, so concurrent
// heartbeats and scheduler reconciliation interleave safely at row
// granularity.
type Store struct {
	db    *relica.DB
	sqlDB *sql.DB
	clock clockwork.Clock
}

// NewStore wraps an open database handle. driverName should be "sqlite3";
// the queries are portable to the other drivers Relica supports.
func NewStore(sqlDB *sql.DB, driverName string, clock clockwork.Clock) *Store {
	return &Store{
		db:    relica.WrapDB(sqlDB, driverName),
		sqlDB: sqlDB,
		clock: clock,
	}
}

// Migrate applies the embedded schema migrations in file order. Safe to run
// on every boot.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		script, err := migrationFiles.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := s.sqlDB.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

// subscriberRecord is the internal DB representation. The subscription is
// stored as a nullable JSON blob; NULL means not currently subscribed.
type subscriberRecord struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Subscription sql.NullString `db:"subscription"`
	Status       string         `db:"status"`
	LastActive   time.Time      `db:"last_active"`
}

func (r subscriberRecord) TableName() string { return tableName }

// UpsertSubscription creates or overwrites the subscription for name. The
// subscriber comes back subscribed with last_active set to now, whatever
// state the row was in before.
func (s *Store) UpsertSubscription(ctx context.Context, name string, sub subscriber.Subscription) (subscriber.Subscriber, error) {
	now := s.clock.Now().UTC()

	existing, err := s.FindByName(ctx, name)
	if errors.Is(err, dispatch.ErrNotFound) {
		created := subscriber.New(name, sub, now)
		record, err := toRecord(created)
		if err != nil {
			return subscriber.Subscriber{}, err
		}
		if err := s.db.WithContext(ctx).Model(&record).Table(tableName).Insert(); err != nil {
			return subscriber.Subscriber{}, fmt.Errorf("failed to insert subscriber: %w", err)
		}
		return created, nil
	}
	if err != nil {
		return subscriber.Subscriber{}, err
	}

	blob, err := json.Marshal(sub)
	if err != nil {
		return subscriber.Subscriber{}, fmt.Errorf("failed to encode subscription: %w", err)
	}
	_, err = s.db.WithContext(ctx).Update(tableName).
		Set(map[string]interface{}{
			"subscription": string(blob),
			"status":       string(subscriber.StatusSubscribed),
			"last_active":  now,
		}).
		Where("id = ?", existing.ID).
		WithContext(ctx).
		Execute()
	if err != nil {
		return subscriber.Subscriber{}, fmt.Errorf("failed to update subscription: %w", err)
	}

	existing.Subscription = &sub
	existing.Status = subscriber.StatusSubscribed
	existing.LastActive = now
	return existing, nil
}

// Touch advances last_active for name and reports whether the subscriber
// existed. The guard keeps last_active monotone even if a racing writer
// already recorded a later timestamp.
func (s *Store) Touch(ctx context.Context, name string) (bool, error) {
	now := s.clock.Now().UTC()

	res, err := s.db.WithContext(ctx).Update(tableName).
		Set(map[string]interface{}{"last_active": now}).
		Where("name = ? AND last_active <= ?", name, now).
		WithContext(ctx).
		Execute()
	if err != nil {
		return false, fmt.Errorf("failed to touch subscriber: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		return true, nil
	}

	// The row may exist with a newer last_active; that still counts.
	_, err = s.FindByName(ctx, name)
	if errors.Is(err, dispatch.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindByName returns the subscriber or dispatch.ErrNotFound.
func (s *Store) FindByName(ctx context.Context, name string) (subscriber.Subscriber, error) {
	var record subscriberRecord
	err := s.db.WithContext(ctx).Select("*").From(tableName).Where("name = ?", name).One(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return subscriber.Subscriber{}, dispatch.ErrNotFound
	}
	if err != nil {
		return subscriber.Subscriber{}, fmt.Errorf("failed to find subscriber by name: %w", err)
	}
	return toDomain(record)
}

// FindByID returns the subscriber or dispatch.ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (subscriber.Subscriber, error) {
	var record subscriberRecord
	err := s.db.WithContext(ctx).Select("*").From(tableName).Where("id = ?", id).One(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return subscriber.Subscriber{}, dispatch.ErrNotFound
	}
	if err != nil {
		return subscriber.Subscriber{}, fmt.Errorf("failed to find subscriber by id: %w", err)
	}
	return toDomain(record)
}

// ListStale returns every subscribed subscriber whose last activity is
// older than threshold.
func (s *Store) ListStale(ctx context.Context, threshold time.Duration) ([]subscriber.Subscriber, error) {
	cutoff := s.clock.Now().UTC().Add(-threshold)

	var records []subscriberRecord
	err := s.db.WithContext(ctx).Select("*").From(tableName).
		Where("status = ? AND last_active < ?", string(subscriber.StatusSubscribed), cutoff).
		All(&records)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale subscribers: %w", err)
	}
	return toDomainAll(records)
}

// MarkDelivered resets last_active after a successful send. The scan
// interval thereby acts as a notification cooldown.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.db.WithContext(ctx).Update(tableName).
		Set(map[string]interface{}{"last_active": s.clock.Now().UTC()}).
		Where("id = ?", id).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to mark subscriber delivered: %w", err)
	}
	return nil
}

// Invalidate clears the subscription and marks the subscriber
// unsubscribed. The row is kept so a later re-subscribe restores the same
// identity.
func (s *Store) Invalidate(ctx context.Context, id string) error {
	_, err := s.db.WithContext(ctx).Update(tableName).
		Set(map[string]interface{}{
			"subscription": nil,
			"status":       string(subscriber.StatusUnsubscribed),
		}).
		Where("id = ?", id).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to invalidate subscriber: %w", err)
	}
	return nil
}

// ListAll returns every subscriber, for the diagnostic listing endpoint.
func (s *Store) ListAll(ctx context.Context) ([]subscriber.Subscriber, error) {
	var records []subscriberRecord
	err := s.db.WithContext(ctx).Select("*").From(tableName).All(&records)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	return toDomainAll(records)
}

// --- Conversions ---

func toRecord(sub subscriber.Subscriber) (subscriberRecord, error) {
	record := subscriberRecord{
		ID:         sub.ID,
		Name:       sub.Name,
		Status:     string(sub.Status),
		LastActive: sub.LastActive.UTC(),
	}
	if sub.Subscription != nil {
		blob, err := json.Marshal(sub.Subscription)
		if err != nil {
			return subscriberRecord{}, fmt.Errorf("failed to encode subscription: %w", err)
		}
		record.Subscription = sql.NullString{String: string(blob), Valid: true}
	}
	return record, nil
}

func toDomain(record subscriberRecord) (subscriber.Subscriber, error) {
	sub := subscriber.Subscriber{
		ID:         record.ID,
		Name:       record.Name,
		Status:     subscriber.Status(record.Status),
		LastActive: record.LastActive.UTC(),
	}
	if record.Subscription.Valid {
		var desc subscriber.Subscription
		if err := json.Unmarshal([]byte(record.Subscription.String), &desc); err != nil {
			return subscriber.Subscriber{}, fmt.Errorf("corrupt subscription blob for %s: %w", record.Name, err)
		}
		sub.Subscription = &desc
	}
	return sub, nil
}

func toDomainAll(records []subscriberRecord) ([]subscriber.Subscriber, error) {
	subs := make([]subscriber.Subscriber, 0, len(records))
	for _, record := range records {
		sub, err := toDomain(record)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
