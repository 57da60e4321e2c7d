// Package heartbeat drives the Scheduler on a fixed cadence. Grounded on the
// teacher's runLoop (internal/commands/loop.go): a loop with a circuit
// breaker and isolated per-iteration error handling, reshaped here around a
// time.Ticker and alternating phases instead of one task per iteration.
package heartbeat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentqueue/agentqueue/internal/domain"
	"github.com/agentqueue/agentqueue/internal/eventbus"
	"github.com/agentqueue/agentqueue/internal/ratelimit"
	"github.com/agentqueue/agentqueue/internal/scheduler"
	"github.com/agentqueue/agentqueue/internal/store"
)

const (
	defaultAssessBatchSize = 10
	gcEveryNBeats          = 10
)

// Diagnostics summarizes what one beat actually did, returned from a manual
// Trigger for callers (e.g. a CLI command) that want to see the effect.
type Diagnostics struct {
	Beat             int64
	Phase            string
	RateLimited      bool
	RateLimitUnknown bool
	RateLimit        domain.RateLimitSnapshot
	AssessRan        bool
	ExecuteRan       bool
	GCRan            bool
	DedupeRan        bool
	Errors           []string
	SubscriberCount  int
}

// Heartbeat ticks the Scheduler's phases. Assess and execute alternate by
// beat parity so each gets the full interval's worth of attention without
// starving the other; GC runs every gcEveryNBeats beats regardless of parity.
// Every beat first consults RateLimitProbe; a limited result skips the
// assess/execute phase for that beat entirely (spec.md §4.3 step 2).
type Heartbeat struct {
	db            *sql.DB
	sched         *scheduler.Scheduler
	bus           *eventbus.Bus
	interval      time.Duration
	maxConcurrent int
	assessBatch   int
	rateLimitPath string

	mu      sync.Mutex
	beat    int64
	stop    chan struct{}
	stopped chan struct{}
}

// New constructs a Heartbeat. It does not start ticking until Start is called.
func New(db *sql.DB, sched *scheduler.Scheduler, bus *eventbus.Bus, interval time.Duration, maxConcurrent int) *Heartbeat {
	return &Heartbeat{
		db:            db,
		sched:         sched,
		bus:           bus,
		interval:      interval,
		maxConcurrent: maxConcurrent,
		assessBatch:   defaultAssessBatchSize,
		rateLimitPath: ratelimit.DefaultCachePath(),
	}
}

// Start begins ticking in a background goroutine. Stop must be called to
// release it. Calling Start twice without an intervening Stop is a no-op.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	if h.stop != nil {
		h.mu.Unlock()
		return
	}
	h.stop = make(chan struct{})
	h.stopped = make(chan struct{})
	stop, stopped := h.stop, h.stopped
	h.mu.Unlock()

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				h.runBeat(ctx)
			}
		}
	}()
}

// Stop halts the ticking goroutine and waits for the in-flight beat, if any,
// to finish. Safe to call even if Start was never called.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	stop, stopped := h.stop, h.stopped
	h.stop, h.stopped = nil, nil
	h.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

// Trigger runs exactly one beat synchronously, independent of the ticker,
// and returns what happened. Used by a manual CLI trigger command.
func (h *Heartbeat) Trigger(ctx context.Context) Diagnostics {
	return h.runBeat(ctx)
}

func (h *Heartbeat) runBeat(ctx context.Context) Diagnostics {
	h.mu.Lock()
	h.beat++
	beat := h.beat
	h.mu.Unlock()

	diag := Diagnostics{Beat: beat}
	if h.bus != nil {
		diag.SubscriberCount = h.bus.SubscriberCount()
	}

	// Step 2: probe rate limit and cache it, regardless of outcome.
	snap := ratelimit.Probe(h.rateLimitPath)
	diag.RateLimit = snap
	if h.db != nil {
		if err := store.SaveRateLimitSnapshot(h.db, snap); err != nil {
			slog.Default().Warn("heartbeat: save rate limit snapshot", "beat", beat, "error", err)
		}
	}

	phase := "assess"
	if beat%2 == 0 {
		phase = "execute"
	}
	diag.Phase = phase

	tickPayload, _ := json.Marshal(map[string]any{
		"beat": beat, "phase": phase, "rate_limit": snap,
	})
	h.publish(domain.EventHeartbeatTick, domain.EntityBeat, fmt.Sprintf("%d", beat), tickPayload, beat)

	if snap.IsUnknown() {
		diag.RateLimitUnknown = true
		h.publish(domain.EventRateLimitUnknown, domain.EntityRateLimit, fmt.Sprintf("%d", beat), nil, beat)
	}

	if snap.IsLimited {
		diag.RateLimited = true
		h.publish(domain.EventHeartbeatRateLimited, domain.EntityBeat, fmt.Sprintf("%d", beat), nil, beat)
	} else {
		// Steps 3-4: phase alternation. Odd beats dedupe then assess; even
		// beats execute. Each per-task action inside the scheduler is already
		// error-isolated; here we isolate at the phase-call boundary too so a
		// failure in one phase never blocks GC or future beats.
		if beat%2 == 1 {
			diag.DedupeRan = true
			if err := h.sched.DedupeTasks(); err != nil {
				h.recordError(&diag, beat, "dedupe", err)
			}
			diag.AssessRan = true
			if err := h.sched.AssessBatch(ctx, h.assessBatch); err != nil {
				h.recordError(&diag, beat, "assess", err)
			}
		} else {
			diag.ExecuteRan = true
			if err := h.sched.ExecuteNextTasks(ctx, h.maxConcurrent); err != nil {
				h.recordError(&diag, beat, "execute", err)
			}
		}
	}

	// Step 5: GC runs every Nth beat regardless of rate-limit state or parity.
	if beat%gcEveryNBeats == 0 {
		diag.GCRan = true
		if err := h.sched.CleanupStaleWorktrees(ctx); err != nil {
			h.recordError(&diag, beat, "gc", err)
		}
	}

	return diag
}

func (h *Heartbeat) recordError(diag *Diagnostics, beat int64, phase string, err error) {
	diag.Errors = append(diag.Errors, err.Error())
	slog.Default().Error("heartbeat: phase failed", "beat", beat, "phase", phase, "error", err)

	payload, _ := json.Marshal(map[string]any{"phase": phase, "error": err.Error()})
	h.publish(domain.EventHeartbeatError, domain.EntityBeat, fmt.Sprintf("%d", beat), payload, beat)
}

func (h *Heartbeat) publish(kind, entityType, entityID string, payload json.RawMessage, beat int64) {
	if h.bus == nil {
		return
	}
	if _, err := h.bus.Publish(domain.Event{
		Kind: kind, EntityType: entityType, EntityID: entityID, Payload: payload,
	}); err != nil {
		slog.Default().Warn("heartbeat: publish event", "kind", kind, "beat", beat, "error", err)
	}
}
