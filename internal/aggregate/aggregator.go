// Package aggregate maintains per-entity sliding-window state.
package aggregate

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-risk/kestrel/internal/domain"
)

type entry struct {
	ts     time.Time
	amount float64
}

// window is the aggregate record for one entity. The timestamp buffer
// serves both the trailing hourly window and the UTC-day totals; stale
// entries are pruned before each read.
type window struct {
	mu           sync.Mutex
	entries      []entry
	sessionStart time.Time
	lastActivity time.Time
	totalSpent   float64
	count        int64
	priorAlerts  int
}

type shard struct {
	mu       sync.RWMutex
	entities map[string]*window
}

// Aggregator maintains per-entity windows behind sharded locks, so
// transactions for distinct entities never contend while same-entity
// mutations serialize on the entity's own lock.
type Aggregator struct {
	cfg    domain.AggregatorConfig
	shards []*shard
}

// NewAggregator creates an aggregator with the given window settings.
func NewAggregator(cfg domain.AggregatorConfig) *Aggregator {
	if cfg.LockShards <= 0 {
		cfg.LockShards = 64
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	if cfg.WindowRetention <= 0 {
		cfg.WindowRetention = time.Hour
	}
	if cfg.DailyRetention <= 0 {
		cfg.DailyRetention = 24 * time.Hour
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 60 * time.Second
	}

	shards := make([]*shard, cfg.LockShards)
	for i := range shards {
		shards[i] = &shard{entities: make(map[string]*window)}
	}
	return &Aggregator{cfg: cfg, shards: shards}
}

func (a *Aggregator) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return a.shards[int(h.Sum32())%len(a.shards)]
}

func (a *Aggregator) getOrCreate(key string) *window {
	s := a.shardFor(key)

	s.mu.RLock()
	w, ok := s.entities[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.entities[key]; ok {
		return w
	}
	w = &window{}
	s.entities[key] = w
	return w
}

// Observe atomically applies one transaction to its entity's window and
// returns the post-observation snapshot. The read-modify-write runs
// under the entity's lock, released on every exit path.
func (a *Aggregator) Observe(tx *domain.Transaction, now time.Time) domain.EntitySnapshot {
	key := tx.EntityKey()
	w := a.getOrCreate(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	// Session reset on inactivity gap.
	if w.lastActivity.IsZero() || now.Sub(w.lastActivity) > a.cfg.SessionTimeout {
		w.sessionStart = now
	}

	w.prune(now, a.cfg.DailyRetention)

	// Duplicate check runs against entries observed before this one.
	duplicate := false
	dupHorizon := now.Add(-a.cfg.DuplicateWindow)
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].ts.Before(dupHorizon) {
			break
		}
		if w.entries[i].amount == tx.Amount {
			duplicate = true
			break
		}
	}

	w.entries = append(w.entries, entry{ts: now, amount: tx.Amount})
	w.lastActivity = now
	w.totalSpent += tx.Amount
	w.count++

	snap := w.snapshot(key, now, a.cfg.WindowRetention)
	snap.DuplicateInWindow = duplicate
	return snap
}

// Snapshot returns the current read-only view of one entity. The second
// return value is false when the entity is unknown. Stale entries are
// pruned before the read; repeated calls with the same now and no
// intervening Observe return identical values.
func (a *Aggregator) Snapshot(key string, now time.Time) (domain.EntitySnapshot, bool) {
	s := a.shardFor(key)
	s.mu.RLock()
	w, ok := s.entities[key]
	s.mu.RUnlock()
	if !ok {
		return domain.EntitySnapshot{EntityKey: key}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now, a.cfg.DailyRetention)
	return w.snapshot(key, now, a.cfg.WindowRetention), true
}

// RecordAlert increments the prior-alert count for an entity, feeding
// entity history risk on subsequent transactions.
func (a *Aggregator) RecordAlert(key string) {
	s := a.shardFor(key)
	s.mu.RLock()
	w, ok := s.entities[key]
	s.mu.RUnlock()
	if !ok {
		return
	}
	w.mu.Lock()
	w.priorAlerts++
	w.mu.Unlock()
}

// Evict drops entities whose last activity is older than the retention
// horizon. Runs on its own schedule and only holds one shard lock at a
// time so it never stalls transaction processing.
func (a *Aggregator) Evict(now time.Time) int {
	horizon := now.Add(-a.cfg.DailyRetention)
	evicted := 0
	for _, s := range a.shards {
		s.mu.Lock()
		for key, w := range s.entities {
			w.mu.Lock()
			stale := w.lastActivity.Before(horizon)
			w.mu.Unlock()
			if stale {
				delete(s.entities, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// StartEviction runs the periodic eviction sweep until ctx is done.
func (a *Aggregator) StartEviction(ctx context.Context, clock func() time.Time) {
	interval := a.cfg.EvictionInterval
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.Evict(clock()); n > 0 {
					slog.Debug("evicted stale entity windows", "count", n)
				}
			}
		}
	}()
}

// EntityCount returns the number of tracked entities.
func (a *Aggregator) EntityCount() int {
	n := 0
	for _, s := range a.shards {
		s.mu.RLock()
		n += len(s.entities)
		s.mu.RUnlock()
	}
	return n
}

// prune drops buffered entries older than the retention horizon.
// Must hold w.mu.
func (w *window) prune(now time.Time, retention time.Duration) {
	horizon := now.Add(-retention)
	i := 0
	for i < len(w.entries) && w.entries[i].ts.Before(horizon) {
		i++
	}
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}

// snapshot derives the window counters by filtering the buffer against
// the trailing hour and the start of the current UTC day. Recompute on
// read keeps correctness simple; buffers stay small under eviction.
// Must hold w.mu.
func (w *window) snapshot(key string, now time.Time, hourWindow time.Duration) domain.EntitySnapshot {
	hourHorizon := now.Add(-hourWindow)
	minuteHorizon := now.Add(-time.Minute)
	// The day boundary is defined in UTC; now may carry a client offset.
	u := now.UTC()
	dayStart := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)

	hourly, minute := 0, 0
	daily := 0.0
	for _, e := range w.entries {
		if !e.ts.Before(hourHorizon) {
			hourly++
		}
		if !e.ts.Before(minuteHorizon) {
			minute++
		}
		if !e.ts.Before(dayStart) {
			daily += e.amount
		}
	}

	var sessionDur time.Duration
	if !w.sessionStart.IsZero() {
		sessionDur = w.lastActivity.Sub(w.sessionStart)
	}

	return domain.EntitySnapshot{
		EntityKey:        key,
		HourlyCount:      hourly,
		MinuteCount:      minute,
		DailyAmount:      daily,
		SessionStart:     w.sessionStart,
		SessionDuration:  sessionDur,
		LastActivity:     w.lastActivity,
		TotalSpent:       w.totalSpent,
		TransactionCount: w.count,
		PriorAlerts:      w.priorAlerts,
	}
}
