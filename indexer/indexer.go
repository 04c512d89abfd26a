// Package indexer persists executed envelopes to a SQL database so relayers
// and operators can query what a signer has submitted.
package indexer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"metatx/core/events"
	"metatx/crypto"
	"metatx/observability"
)

const (
	// DefaultListLimit bounds ListBySigner when no limit is supplied.
	DefaultListLimit = 100
	// MaxListLimit caps ListBySigner regardless of the requested limit.
	MaxListLimit = 1000
)

// ErrEmptyDSN is returned by Open when no data source is configured.
var ErrEmptyDSN = errors.New("indexer: empty dsn")

// ExecutedEnvelope is one row of the executed_envelopes table.
type ExecutedEnvelope struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	Digest     string    `gorm:"size:66;uniqueIndex;not null" json:"digest"`
	Signer     string    `gorm:"size:128;index;not null" json:"signer"`
	Relayer    string    `gorm:"size:128;not null" json:"relayer"`
	Forwarder  string    `gorm:"size:128;not null" json:"forwarder"`
	Callee     string    `gorm:"size:128;index;not null" json:"callee"`
	Selector   string    `gorm:"size:10;not null" json:"selector"`
	Nonce      string    `gorm:"size:40;not null" json:"nonce"`
	Value      string    `gorm:"size:40;not null" json:"value"`
	GasLimit   uint64    `gorm:"not null" json:"gasLimit"`
	Expiration uint64    `gorm:"not null" json:"expiration"`
	Envelope   string    `gorm:"type:text;not null" json:"envelope"`
	RecordedAt time.Time `gorm:"index;not null" json:"recordedAt"`
}

// TableName pins the table name independent of gorm's pluralisation rules.
func (ExecutedEnvelope) TableName() string { return "executed_envelopes" }

// Option customises an Indexer.
type Option func(*Indexer)

// WithLogger overrides the logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithClock overrides the clock used for RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(ix *Indexer) {
		if now != nil {
			ix.now = now
		}
	}
}

// Indexer records forwarder.executed events. It implements events.Emitter.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to dsn and migrates the schema. DSNs starting with
// postgres:// or postgresql:// use Postgres; "sqlite:<path>" or a bare path
// use the pure-Go SQLite driver.
func Open(dsn string, opts ...Option) (*Indexer, error) {
	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	return New(db, opts...)
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, ErrEmptyDSN
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		path := strings.TrimPrefix(dsn, "sqlite:")
		if path == "" {
			return nil, ErrEmptyDSN
		}
		return sqlite.Open(path), nil
	default:
		return sqlite.Open(dsn), nil
	}
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB, opts ...Option) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: nil database")
	}
	if err := db.AutoMigrate(&ExecutedEnvelope{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	ix := &Indexer{
		db:     db,
		logger: slog.Default().With(slog.String("component", "indexer")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Emit implements events.Emitter. Events other than forwarder.executed are
// ignored; write failures are logged.
func (ix *Indexer) Emit(evt events.Event) {
	executed, ok := evt.(events.EnvelopeExecuted)
	if !ok {
		return
	}
	observability.Events().RecordEvent(executed.EventType())
	if err := ix.Record(context.Background(), executed); err != nil {
		ix.logger.Error("record executed envelope",
			slog.String("digest", "0x"+hex.EncodeToString(executed.Digest[:])),
			slog.Any("error", err))
	}
}

// Record stores an executed envelope. Recording the same digest twice is a
// no-op.
func (ix *Indexer) Record(ctx context.Context, evt events.EnvelopeExecuted) error {
	if evt.Envelope == nil {
		return fmt.Errorf("indexer: event without envelope")
	}
	encoded, err := evt.Envelope.Encode()
	if err != nil {
		return fmt.Errorf("indexer: encode envelope: %w", err)
	}
	row := ExecutedEnvelope{
		Digest:     "0x" + hex.EncodeToString(evt.Digest[:]),
		Signer:     evt.Envelope.From.String(),
		Relayer:    evt.Relayer.String(),
		Forwarder:  evt.Forwarder.String(),
		Callee:     evt.Envelope.Callee.String(),
		Selector:   evt.Envelope.Selector.String(),
		Nonce:      evt.Envelope.NonceValue().Dec(),
		Value:      evt.Envelope.Value().Dec(),
		GasLimit:   evt.Envelope.GasLimit,
		Expiration: evt.Envelope.Expiration,
		Envelope:   "0x" + hex.EncodeToString(encoded),
		RecordedAt: ix.now().UTC(),
	}
	err = ix.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "digest"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("indexer: insert: %w", err)
	}
	return nil
}

// ListBySigner returns the most recent envelopes executed for signer, newest
// first. A non-positive limit selects DefaultListLimit.
func (ix *Indexer) ListBySigner(ctx context.Context, signer crypto.AccountID, limit int) ([]ExecutedEnvelope, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	var rows []ExecutedEnvelope
	err := ix.db.WithContext(ctx).
		Where("signer = ?", signer.String()).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("indexer: list: %w", err)
	}
	return rows, nil
}

// Count returns the number of recorded envelopes.
func (ix *Indexer) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := ix.db.WithContext(ctx).Model(&ExecutedEnvelope{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("indexer: count: %w", err)
	}
	return n, nil
}

// Close releases the underlying connection pool.
func (ix *Indexer) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
