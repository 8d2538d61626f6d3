package sequence

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// ErrConflict is returned by a Store when the number is already reserved.
var ErrConflict = errors.New("sequence: number already reserved")

// Reservation records a document number. Seq is nil for fallback numbers so
// they never take part in the sequential maximum.
type Reservation struct {
	DocType    string
	Period     string
	Number     string
	Seq        *int
	ReservedAt time.Time
}

// Store is the transaction-scoped sequence persistence port. Reserve must
// enforce uniqueness of Number per DocType and leave the surrounding
// transaction usable after a conflict.
type Store interface {
	MaxSeq(ctx context.Context, docType, period string) (int, error)
	Reserve(ctx context.Context, r Reservation) error
}

// Observer receives allocator contention signals.
type Observer interface {
	SequenceRetry(docType string)
	SequenceFallback(docType string)
}

type nopObserver struct{}

func (nopObserver) SequenceRetry(string)    {}
func (nopObserver) SequenceFallback(string) {}

// Allocator hands out PREFIX-YYMM-NNNN numbers optimistically: read the
// current maximum, reserve the next value, retry on conflict and finally fall
// back to a time-ordered unique suffix.
type Allocator struct {
	prefixes map[string]string
	policy   RetryPolicy
	observer Observer
	now      func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithObserver installs a contention observer.
func WithObserver(o Observer) Option {
	return func(a *Allocator) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithNow overrides the clock used for reservations and fallback numbers.
func WithNow(now func() time.Time) Option {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAllocator builds an Allocator for the given document type prefixes.
func NewAllocator(prefixes map[string]string, policy RetryPolicy, opts ...Option) *Allocator {
	a := &Allocator{
		prefixes: make(map[string]string, len(prefixes)),
		policy:   policy.normalised(),
		observer: nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
	for k, v := range prefixes {
		a.prefixes[k] = v
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Prefix returns the configured prefix of a document type.
func (a *Allocator) Prefix(docType string) (string, error) {
	prefix, ok := a.prefixes[docType]
	if !ok || prefix == "" {
		return "", shared.Invalid("doc_type", "unknown document type %q", docType)
	}
	return prefix, nil
}

// Period formats the period segment of a document number.
func Period(t time.Time) string {
	return t.Format("0601")
}

// Format renders a sequential document number.
func Format(prefix, period string, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, period, seq)
}

func validPeriod(period string) bool {
	if len(period) != 4 {
		return false
	}
	for _, r := range period {
		if r < '0' || r > '9' {
			return false
		}
	}
	month := (period[2]-'0')*10 + (period[3] - '0')
	return month >= 1 && month <= 12
}

// Next reserves the next document number of docType in period.
func (a *Allocator) Next(ctx context.Context, store Store, docType, period string) (string, error) {
	prefix, err := a.Prefix(docType)
	if err != nil {
		return "", err
	}
	if !validPeriod(period) {
		return "", shared.Invalid("period", "expected YYMM, got %q", period)
	}

	for attempt := 1; attempt <= a.policy.MaxAttempts; attempt++ {
		current, err := store.MaxSeq(ctx, docType, period)
		if err != nil {
			return "", fmt.Errorf("sequence: read max: %w", err)
		}
		seq := current + 1
		number := Format(prefix, period, seq)
		err = store.Reserve(ctx, Reservation{DocType: docType, Period: period, Number: number, Seq: &seq, ReservedAt: a.now()})
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", fmt.Errorf("sequence: reserve %s: %w", number, err)
		}
		a.observer.SequenceRetry(docType)
		if attempt < a.policy.MaxAttempts {
			if err := a.policy.Sleep(ctx, a.policy.Backoff(attempt)); err != nil {
				return "", err
			}
		}
	}

	a.observer.SequenceFallback(docType)
	number := fmt.Sprintf("%s-%s-%s", prefix, period, a.suffix())
	err = store.Reserve(ctx, Reservation{DocType: docType, Period: period, Number: number, ReservedAt: a.now()})
	if errors.Is(err, ErrConflict) {
		return "", &shared.SequenceConflictError{DocType: docType, Period: period, Attempts: a.policy.MaxAttempts + 1}
	}
	if err != nil {
		return "", fmt.Errorf("sequence: reserve fallback %s: %w", number, err)
	}
	return number, nil
}

// Peek previews the next sequential number without reserving it.
func (a *Allocator) Peek(ctx context.Context, store Store, docType, period string) (string, error) {
	prefix, err := a.Prefix(docType)
	if err != nil {
		return "", err
	}
	if !validPeriod(period) {
		return "", shared.Invalid("period", "expected YYMM, got %q", period)
	}
	current, err := store.MaxSeq(ctx, docType, period)
	if err != nil {
		return "", fmt.Errorf("sequence: read max: %w", err)
	}
	return Format(prefix, period, current+1), nil
}

func (a *Allocator) suffix() string {
	a.entropyMu.Lock()
	defer a.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(a.now()), a.entropy).String()
}
