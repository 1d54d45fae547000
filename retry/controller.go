package retry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config configures a Controller. Strategy/Racing select the top-level
// policy; Auto and Adaptive resolve to a concrete (Strategy, Racing)
// pair per attempt.
type Config struct {
	Strategy Strategy
	Racing   RacingStrategy

	BaseDelay time.Duration
	MaxDelay  time.Duration

	MaxParallelConnections int
	RacingDelay            time.Duration

	// SustainedSuccess resets the attempt counter after this much
	// continuous data flow (spec.md §4.7: default 30s).
	SustainedSuccess time.Duration

	// Adaptive mode only.
	ExplorationRate      float64
	DiscoveryPhase       time.Duration
	ConfidenceThreshold  float64
	ProfileStore         *ProfileStore // nil disables persistence
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:               Auto,
		Racing:                 RaceNone,
		BaseDelay:              time.Second,
		MaxDelay:               30 * time.Second,
		MaxParallelConnections: 3,
		RacingDelay:            250 * time.Millisecond,
		SustainedSuccess:       30 * time.Second,
		ExplorationRate:        defaultExplorationRate,
		DiscoveryPhase:         defaultDiscoveryPhase,
		ConfidenceThreshold:    defaultConfidenceThreshold,
	}
}

// HistoryEntry is one recorded decision, emitted as a structured log
// event and kept in the bounded in-memory history for inspection.
type HistoryEntry struct {
	ID             string
	Timestamp      time.Time
	ServerKey      string
	Category       string // "retry", "auto", "adaptive", "racing"
	Classification Classification
	Decision       Decision
	Outcome        *Outcome
}

const historyCap = 20

type serverState struct {
	recentAttempts []Attempt
	attemptInBurst int
	burstStartedAt time.Time
	auto           *autoState
	discoveryStart time.Time
	lastArmIdx     int
}

// Controller is the retry/racing policy engine. One Controller typically
// serves one session, but is safe to share across reconnect attempts to
// multiple servers — all per-server state is keyed by ServerKey.
type Controller struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	servers map[string]*serverState
	history []HistoryEntry
}

// NewController creates a Controller. log receives one structured event
// per decision, tagged with the category fields spec.md §4.7 requires.
func NewController(cfg Config, log zerolog.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		log:     log,
		servers: make(map[string]*serverState),
	}
}

func (c *Controller) stateFor(serverKey string) *serverState {
	st, ok := c.servers[serverKey]
	if !ok {
		st = &serverState{auto: newAutoState(), discoveryStart: time.Now()}
		c.servers[serverKey] = st
	}
	return st
}

// RecordAttempt registers the outcome of one connect try against
// serverKey, updating the recent-attempts window, the adaptive bandit
// (if enabled) and the sustained-success burst reset.
func (c *Controller) RecordAttempt(serverKey string, a Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateFor(serverKey)
	st.recentAttempts = append(st.recentAttempts, a)
	if len(st.recentAttempts) > 3 {
		st.recentAttempts = st.recentAttempts[len(st.recentAttempts)-3:]
	}

	if a.Outcome == Connected && a.LifetimeBeforeDrop >= c.cfg.SustainedSuccess {
		st.attemptInBurst = 0
		st.burstStartedAt = time.Time{}
	}

	if c.cfg.Strategy == Adaptive && c.cfg.ProfileStore != nil && a.Outcome != AuthFailed {
		profile := c.cfg.ProfileStore.Load(serverKey)
		profile.update(st.lastArmIdx, a.Outcome.success())
		c.cfg.ProfileStore.MarkDirty(serverKey)
		if profile.AttemptCount%100 == 0 {
			c.cfg.ProfileStore.Flush() //nolint:errcheck
		}
	}

	c.record(HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		ServerKey: serverKey,
		Category:  "retry",
		Outcome:   &a.Outcome,
	})
}

// Decide computes the next delay, strategy and racing mode for
// serverKey, given the attempt number within the current burst.
func (c *Controller) Decide(serverKey string) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateFor(serverKey)
	st.attemptInBurst++
	if st.burstStartedAt.IsZero() {
		st.burstStartedAt = time.Now()
	}

	strategy := c.cfg.Strategy
	racing := c.cfg.Racing
	classification := ClassUnknown

	switch c.cfg.Strategy {
	case Auto:
		classification, strategy, racing = classify(st.recentAttempts, st.auto)
		c.record(HistoryEntry{ID: uuid.NewString(), Timestamp: time.Now(), ServerKey: serverKey,
			Category: "auto", Classification: classification,
			Decision: Decision{Strategy: strategy, Racing: racing}})

	case Adaptive:
		strategy, racing = c.decideAdaptive(serverKey, st)
	}

	delay := computeDelay(strategy, st.attemptInBurst, c.cfg.BaseDelay, c.cfg.MaxDelay)

	d := Decision{
		Strategy:       strategy,
		Racing:         racing,
		Delay:          delay,
		Classification: classification,
		AttemptNumber:  st.attemptInBurst,
	}

	c.record(HistoryEntry{ID: uuid.NewString(), Timestamp: time.Now(), ServerKey: serverKey,
		Category: "racing", Decision: d})

	return d
}

func (c *Controller) decideAdaptive(serverKey string, st *serverState) (Strategy, RacingStrategy) {
	if c.cfg.ProfileStore == nil {
		// adaptive requested without persistence: behave like a single-
		// session bandit that never survives a restart.
		c.cfg.ProfileStore, _ = NewProfileStore(".", DefaultProfileTTL, DefaultProfileCap, c.log)
	}

	profile := c.cfg.ProfileStore.Load(serverKey)

	inDiscovery := time.Since(st.discoveryStart) < c.cfg.DiscoveryPhase
	idx := selectArm(profile, c.cfg.ExplorationRate, inDiscovery)

	if best := confidentBest(profile, c.cfg.ConfidenceThreshold); best >= 0 {
		idx = best
	}

	st.lastArmIdx = idx

	c.record(HistoryEntry{ID: uuid.NewString(), Timestamp: time.Now(), ServerKey: serverKey,
		Category: "adaptive", Decision: Decision{Strategy: banditArms[idx].Strategy, Racing: banditArms[idx].Racing}})

	return banditArms[idx].Strategy, banditArms[idx].Racing
}

func (c *Controller) record(e HistoryEntry) {
	c.log.Info().
		Str("category", e.Category).
		Str("server", e.ServerKey).
		Str("strategy", e.Decision.Strategy.String()).
		Str("racing", e.Decision.Racing.String()).
		Str("classification", e.Classification.String()).
		Dur("delay", e.Decision.Delay).
		Msg("retry decision")

	c.history = append(c.history, e)
	if len(c.history) > historyCap {
		c.history = c.history[len(c.history)-historyCap:]
	}
}

// History returns a snapshot of the most recent decisions (bounded to
// the last 20, per spec.md §4.7 observability).
func (c *Controller) History() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// Close flushes any pending adaptive-mode profile writes.
func (c *Controller) Close() error {
	if c.cfg.ProfileStore != nil {
		return c.cfg.ProfileStore.Flush()
	}
	return nil
}
