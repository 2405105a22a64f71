// Package audit maintains the append-only, checksum-linked record of every
// privileged action crossing the trust boundary. Each record's checksum
// covers its own serialized fields plus the previous record's checksum, so
// any in-place edit or deletion breaks the chain from that point on.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fraudnet.ai/internal/obs"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Well-known action types.
const (
	ActionLogin               = "auth.login"
	ActionLoginFailed         = "auth.login_failed"
	ActionLogout              = "auth.logout"
	ActionRefresh             = "auth.refresh"
	ActionRefreshReplay       = "auth.refresh.replay"
	ActionAuthorizationDenied = "authorization_denied"
	ActionDegraded            = "audit.degraded"
)

// ErrUnavailable wraps store failures so callers can apply the fail-closed
// policy for privileged mutations.
var ErrUnavailable = errors.New("audit: store unavailable")

// Entry is what callers submit. Sequence number and checksums are assigned
// by the Logger.
type Entry struct {
	Action     string
	Severity   string
	EntityType string
	EntityID   string
	Actor      string
	Changes    map[string]any
	SourceAddr string
	OccurredAt time.Time
}

// Record is an immutable, chained audit record.
type Record struct {
	Seq          uint64         `json:"seq"`
	Action       string         `json:"action"`
	Severity     string         `json:"severity"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Actor        string         `json:"actor"`
	Changes      map[string]any `json:"changes"`
	SourceAddr   string         `json:"source_addr"`
	OccurredAt   time.Time      `json:"occurred_at"`
	PrevChecksum string         `json:"prev_checksum"`
	Checksum     string         `json:"checksum"`
}

// Store is the append-only sink. Append must reject a duplicate sequence
// number rather than fork the chain.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	Last(ctx context.Context) (*Record, error)
	Read(ctx context.Context, fromSeq, toSeq uint64) ([]Record, error)
}

// Logger serializes appends so checksum computation for record N never
// starts before record N-1 is durable. Sequence numbers are strictly
// monotonic with no gaps.
type Logger struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time

	initialized  bool
	lastSeq      uint64
	lastChecksum string

	degraded bool
	dropped  int
}

func NewLogger(store Store) *Logger {
	return &Logger{store: store, now: time.Now}
}

// Append writes one record and returns its sequence number. Callers on the
// privileged-mutation path must treat an error as a veto (fail closed).
func (l *Logger) Append(ctx context.Context, e Entry) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(ctx, e)
}

// AppendBestEffort is the fail-open path for read-only denial records: a
// store outage is swallowed, counted, and reported in a single degradation
// record once the store recovers.
func (l *Logger) AppendBestEffort(ctx context.Context, e Entry) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq, err := l.appendLocked(ctx, e)
	if err != nil {
		if !l.degraded {
			obs.LogRequest(map[string]any{
				"ts":    l.now().UTC().Format(time.RFC3339Nano),
				"level": "error",
				"msg":   "audit_degraded",
				"error": err.Error(),
			})
		}
		l.degraded = true
		l.dropped++
		obs.SetAuditDegraded(true)
		return 0
	}
	return seq
}

func (l *Logger) appendLocked(ctx context.Context, e Entry) (uint64, error) {
	if err := l.initLocked(ctx); err != nil {
		return 0, err
	}
	rec, err := l.writeLocked(ctx, e)
	if err != nil {
		return 0, err
	}
	// Store is reachable again: close out a degradation window with one
	// recovery record.
	if l.degraded {
		dropped := l.dropped
		l.degraded = false
		l.dropped = 0
		obs.SetAuditDegraded(false)
		if _, err := l.writeLocked(ctx, Entry{
			Action:   ActionDegraded,
			Severity: SeverityWarning,
			Actor:    "system",
			Changes:  map[string]any{"dropped_records": dropped},
		}); err != nil {
			l.degraded = true
			l.dropped = dropped
		}
	}
	return rec.Seq, nil
}

func (l *Logger) writeLocked(ctx context.Context, e Entry) (*Record, error) {
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = l.now()
	}
	rec := &Record{
		Seq:        l.lastSeq + 1,
		Action:     strings.TrimSpace(e.Action),
		Severity:   e.Severity,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Actor:      e.Actor,
		Changes:    e.Changes,
		SourceAddr: e.SourceAddr,
		// Truncated to microseconds so the checksum survives the
		// round-trip through timestamptz columns.
		OccurredAt:   occurred.UTC().Truncate(time.Microsecond),
		PrevChecksum: l.lastChecksum,
	}
	if rec.Action == "" {
		return nil, errors.New("audit: action is required")
	}
	if rec.Severity == "" {
		rec.Severity = SeverityInfo
	}
	if rec.Changes == nil {
		rec.Changes = map[string]any{}
	}
	sum, err := Checksum(rec)
	if err != nil {
		return nil, err
	}
	rec.Checksum = sum
	if err := l.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	l.lastSeq = rec.Seq
	l.lastChecksum = rec.Checksum
	obs.SetAuditChainLength(rec.Seq)

	obs.LogRequest(map[string]any{
		"ts":       rec.OccurredAt.Format(time.RFC3339Nano),
		"type":     "audit",
		"seq":      rec.Seq,
		"event":    rec.Action,
		"severity": rec.Severity,
		"actor":    rec.Actor,
	})
	return rec, nil
}

func (l *Logger) initLocked(ctx context.Context) error {
	if l.initialized {
		return nil
	}
	last, err := l.store.Last(ctx)
	if err != nil {
		if errors.Is(err, ErrEmpty) {
			l.initialized = true
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	l.lastSeq = last.Seq
	l.lastChecksum = last.Checksum
	l.initialized = true
	return nil
}

// ErrEmpty is returned by Store.Last when no records exist yet.
var ErrEmpty = errors.New("audit: log is empty")

// LastSeq reports the newest sequence number the logger has written or
// observed at init. Zero means the chain is empty.
func (l *Logger) LastSeq(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.initLocked(ctx); err != nil {
		return 0, err
	}
	return l.lastSeq, nil
}

// Report is the outcome of a chain verification pass.
type Report struct {
	Intact   bool   `json:"intact"`
	Checked  int    `json:"checked"`
	BrokenAt uint64 `json:"broken_at,omitempty"`
}

// VerifyChain recomputes checksums for [fromSeq, toSeq] and validates both
// per-record integrity and linkage. The first record's stored PrevChecksum
// seeds the chain, so partial ranges verify too.
func (l *Logger) VerifyChain(ctx context.Context, fromSeq, toSeq uint64) (Report, error) {
	if fromSeq == 0 || toSeq < fromSeq {
		return Report{}, errors.New("audit: invalid range")
	}
	records, err := l.store.Read(ctx, fromSeq, toSeq)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	prev := ""
	for i, rec := range records {
		expected := fromSeq + uint64(i)
		if rec.Seq != expected {
			return Report{Intact: false, Checked: i, BrokenAt: expected}, nil
		}
		if i == 0 {
			prev = rec.PrevChecksum
			if fromSeq == 1 && prev != "" {
				return Report{Intact: false, Checked: 0, BrokenAt: rec.Seq}, nil
			}
		}
		if rec.PrevChecksum != prev {
			return Report{Intact: false, Checked: i, BrokenAt: rec.Seq}, nil
		}
		sum, err := Checksum(&rec)
		if err != nil {
			return Report{}, err
		}
		if sum != rec.Checksum {
			return Report{Intact: false, Checked: i, BrokenAt: rec.Seq}, nil
		}
		prev = rec.Checksum
	}
	return Report{Intact: true, Checked: len(records)}, nil
}

// Checksum computes the record's hash: SHA-256 over the canonical JSON of
// every field except the checksum itself, concatenated with the previous
// record's checksum. encoding/json emits struct fields in declaration order
// and map keys sorted, which makes the serialization canonical.
func Checksum(rec *Record) (string, error) {
	payload := struct {
		Seq        uint64         `json:"seq"`
		Action     string         `json:"action"`
		Severity   string         `json:"severity"`
		EntityType string         `json:"entity_type"`
		EntityID   string         `json:"entity_id"`
		Actor      string         `json:"actor"`
		Changes    map[string]any `json:"changes"`
		SourceAddr string         `json:"source_addr"`
		OccurredAt string         `json:"occurred_at"`
	}{
		Seq:        rec.Seq,
		Action:     rec.Action,
		Severity:   rec.Severity,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Actor:      rec.Actor,
		Changes:    rec.Changes,
		SourceAddr: rec.SourceAddr,
		OccurredAt: rec.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append(data, []byte(rec.PrevChecksum)...))
	return hex.EncodeToString(sum[:]), nil
}
