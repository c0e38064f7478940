// Package runlog keeps a bounded, newest-first log of roll-up runs and syncs in
// Redis.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Kind selects one of the logs.
type Kind string

const (
	KindRun  Kind = "run"
	KindSync Kind = "sync"
)

// Valid reports whether k is a known log.
func (k Kind) Valid() bool {
	return k == KindRun || k == KindSync
}

// MaxEntries is the upper bound of entries kept per log.
const MaxEntries = 100

// Entry is one log record.
type Entry struct {
	ID       string          `json:"id"`
	Kind     Kind            `json:"kind"`
	TenantID int64           `json:"tenant_id"`
	Date     string          `json:"date"`
	At       time.Time       `json:"at"`
	Data     json.RawMessage `json:"data"`
}

// Log appends entries to capped Redis lists. A nil Log discards entries.
type Log struct {
	client *redis.Client
	size   int64
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// New constructs Log. size is clamped to [1, MaxEntries].
func New(client *redis.Client, size int64, logger *slog.Logger) *Log {
	if size <= 0 || size > MaxEntries {
		size = MaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{client: client, size: size, prefix: "rollup:log:", logger: logger, now: time.Now}
}

func (l *Log) key(kind Kind) string {
	return l.prefix + string(kind)
}

// Append records data under kind and returns the entry ID. Failures are logged
// and never returned, so callers can ignore the log being unavailable.
func (l *Log) Append(ctx context.Context, kind Kind, tenantID int64, date string, data any) string {
	id := uuid.NewString()
	if l == nil || l.client == nil {
		return id
	}
	raw, err := json.Marshal(data)
	if err != nil {
		l.logger.Warn("runlog encode payload", slog.String("kind", string(kind)), slog.Any("error", err))
		return id
	}
	entry, err := json.Marshal(Entry{ID: id, Kind: kind, TenantID: tenantID, Date: date, At: l.now().UTC(), Data: raw})
	if err != nil {
		l.logger.Warn("runlog encode entry", slog.String("kind", string(kind)), slog.Any("error", err))
		return id
	}
	key := l.key(kind)
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, entry)
		pipe.LTrim(ctx, key, 0, l.size-1)
		return nil
	})
	if err != nil {
		l.logger.Warn("runlog append", slog.String("kind", string(kind)), slog.Int64("tenant_id", tenantID), slog.Any("error", err))
	}
	return id
}

// Recent returns up to limit entries of kind, newest first.
func (l *Log) Recent(ctx context.Context, kind Kind, limit int64) ([]Entry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("runlog: unknown kind %q", kind)
	}
	if l == nil || l.client == nil {
		return []Entry{}, nil
	}
	if limit <= 0 || limit > l.size {
		limit = l.size
	}
	raw, err := l.client.LRange(ctx, l.key(kind), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("runlog: read %s: %w", kind, err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			l.logger.Warn("runlog skip malformed entry", slog.String("kind", string(kind)), slog.Any("error", err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
