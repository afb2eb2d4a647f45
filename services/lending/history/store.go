package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"occrlend/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultLimit = 100
	maxLimit     = 1000
)

// EventRecord is one committed engine event.
type EventRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID    string    `gorm:"size:36;uniqueIndex" json:"eventId"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Account    string    `gorm:"size:42;index" json:"account,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// Attrs decodes the stored attribute map.
func (r EventRecord) Attrs() map[string]string {
	out := map[string]string{}
	if r.Attributes == "" {
		return out
	}
	_ = json.Unmarshal([]byte(r.Attributes), &out)
	return out
}

// MarshalJSON inlines the decoded attributes.
func (r EventRecord) MarshalJSON() ([]byte, error) {
	type alias EventRecord
	return json.Marshal(struct {
		alias
		Attributes map[string]string `json:"attributes"`
	}{alias: alias(r), Attributes: r.Attrs()})
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Account string
	Type    string
	AfterID uint64
	Limit   int
}

// Store indexes committed events into a SQL database. It implements
// events.Emitter so it can subscribe to the node.
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("history: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("history: database required")
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, now: time.Now, logger: log.With(slog.String("component", "history"))}, nil
}

// Close releases the pooled connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit persists evt. Failures are logged; the ledger state is authoritative
// and history can be rebuilt.
func (s *Store) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if _, err := s.Record(context.Background(), evt); err != nil {
		s.logger.Error("history write failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Record stores evt and returns the persisted row.
func (s *Store) Record(ctx context.Context, evt events.Event) (*EventRecord, error) {
	payload := evt.Event()
	if payload == nil {
		return nil, fmt.Errorf("history: event %s has no payload", evt.EventType())
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return nil, err
	}
	rec := &EventRecord{
		EventID:    uuid.NewString(),
		Type:       payload.Type,
		Account:    payload.Attributes["account"],
		Attributes: string(attrs),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns events in commit order.
func (s *Store) List(ctx context.Context, f Filter) ([]EventRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	q := s.db.WithContext(ctx).Model(&EventRecord{}).Where("id > ?", f.AfterID)
	if account := strings.ToLower(strings.TrimSpace(f.Account)); account != "" {
		q = q.Where("account = ?", account)
	}
	if typ := strings.TrimSpace(f.Type); typ != "" {
		q = q.Where("type = ?", typ)
	}
	var out []EventRecord
	if err := q.Order("id asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountByType summarises the indexed events.
func (s *Store) CountByType(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Type  string
		Total int64
	}
	if err := s.db.WithContext(ctx).Model(&EventRecord{}).
		Select("type, count(*) as total").Group("type").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Type] = row.Total
	}
	return out, nil
}
