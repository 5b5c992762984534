// Package subscription derives a user's display-ready subscription standing
// from the external record store.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"tg_member_bot/internal/domain"
	"tg_member_bot/internal/logging"
	"tg_member_bot/internal/retry"
)

// ErrUnavailable marks a resolution that failed because the record store was
// unreachable after retries. Callers render it as a retry-shortly message and
// must never fall back to fabricated subscription data.
var ErrUnavailable = errors.New("record store temporarily unavailable")

const cacheMaxEntries = 1024

// Status lines rendered in the user's cabinet.
const (
	linePending      = "application under review"
	lineRejected     = "application rejected, contact administrator"
	lineActiveNoDate = "active (no expiration date recorded)"
)

// expiresLayouts are the accepted spellings of the expiration date, tried in
// order.
var expiresLayouts = []string{"2006-01-02", "02.01.2006", "02/01/2006"}

// recordStore is the read side of the external record store.
type recordStore interface {
	QueryByUserID(ctx context.Context, userID string) ([]domain.Record, error)
}

type cacheEntry struct {
	state    domain.DisplayState
	storedAt time.Time
}

// Resolver turns a user identifier into a DisplayState. A short-lived cache
// absorbs rapid repeated requests; concurrent lookups for the same user are
// coalesced through singleflight so one fetch serves them all, while distinct
// users resolve fully in parallel.
type Resolver struct {
	store  recordStore
	cache  *lru.Cache[string, cacheEntry]
	ttl    time.Duration
	flight singleflight.Group
	logger *logrus.Entry

	now func() time.Time
}

// NewResolver constructs a Resolver. A zero or negative ttl disables caching.
func NewResolver(store recordStore, ttl time.Duration, logger *logrus.Entry) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	var cache *lru.Cache[string, cacheEntry]
	if ttl > 0 {
		var err error
		cache, err = lru.New[string, cacheEntry](cacheMaxEntries)
		if err != nil {
			return nil, fmt.Errorf("init resolver cache: %w", err)
		}
	}

	return &Resolver{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Resolve returns the user's current DisplayState, serving a cached value
// when one is still fresh.
func (r *Resolver) Resolve(ctx context.Context, userID string) (domain.DisplayState, error) {
	if r == nil || r.store == nil {
		return domain.DisplayState{}, errors.New("resolver is not initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.DisplayState{}, errors.New("user id is required")
	}

	if state, ok := r.cached(userID); ok {
		r.logger.WithFields(logging.Fields{
			"event":   "resolve_cache_hit",
			"user_id": userID,
		}).Debug("serving cached subscription state")
		return state, nil
	}

	return r.fetch(ctx, userID)
}

// ResolveFresh bypasses the cache, resolves against the store, and
// repopulates the cache with the result.
func (r *Resolver) ResolveFresh(ctx context.Context, userID string) (domain.DisplayState, error) {
	if r == nil || r.store == nil {
		return domain.DisplayState{}, errors.New("resolver is not initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.DisplayState{}, errors.New("user id is required")
	}

	if r.cache != nil {
		r.cache.Remove(userID)
	}

	return r.fetch(ctx, userID)
}

func (r *Resolver) cached(userID string) (domain.DisplayState, bool) {
	if r.cache == nil {
		return domain.DisplayState{}, false
	}

	entry, ok := r.cache.Get(userID)
	if !ok {
		return domain.DisplayState{}, false
	}
	if r.now().Sub(entry.storedAt) > r.ttl {
		r.cache.Remove(userID)
		return domain.DisplayState{}, false
	}

	return entry.state, true
}

func (r *Resolver) fetch(ctx context.Context, userID string) (domain.DisplayState, error) {
	result, err, _ := r.flight.Do(userID, func() (any, error) {
		records, err := r.store.QueryByUserID(ctx, userID)
		if err != nil {
			if retry.Transient(err) {
				return domain.DisplayState{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			return domain.DisplayState{}, err
		}

		state := Derive(records, r.now())

		if r.cache != nil {
			r.cache.Add(userID, cacheEntry{state: state, storedAt: r.now()})
		}

		return state, nil
	})
	if err != nil {
		return domain.DisplayState{}, err
	}

	return result.(domain.DisplayState), nil
}

// Derive computes the DisplayState from a user's records at the given moment.
// The most recently created record wins; older records are never merged in.
func Derive(records []domain.Record, now time.Time) domain.DisplayState {
	if len(records) == 0 {
		return domain.EmptyDisplayState()
	}

	// The store sorts by creation time descending, but re-sort in case a
	// client-side fallback produced unordered results.
	sorted := make([]domain.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	current := sorted[0]

	switch current.Status {
	case domain.StatusApproved:
		return approvedState(current, now)
	case domain.StatusRejected:
		return domain.DisplayState{
			Discord:    domain.NotSet,
			Email:      domain.NotSet,
			StatusLine: lineRejected,
		}
	default:
		// Pending, plus anything unrecognized: never imply access.
		return domain.DisplayState{
			Discord:    domain.NotSet,
			Email:      domain.NotSet,
			StatusLine: linePending,
		}
	}
}

// approvedState reveals contacts for any approved record, expired or not;
// expiry only changes the status line.
func approvedState(rec domain.Record, now time.Time) domain.DisplayState {
	state := domain.DisplayState{
		Discord: orNotSet(rec.Discord),
		Email:   orNotSet(rec.Email),
	}

	expires, ok := parseExpires(rec.ExpiresAt)
	if !ok {
		state.StatusLine = lineActiveNoDate
		return state
	}

	formatted := expires.Format("2006-01-02")
	if expires.Before(dateOnly(now)) {
		state.StatusLine = "expired on " + formatted
	} else {
		state.StatusLine = "active until " + formatted
	}

	return state
}

func parseExpires(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}

	for _, layout := range expiresLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed, true
		}
	}

	return time.Time{}, false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func orNotSet(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.NotSet
	}
	return value
}
