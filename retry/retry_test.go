package retry

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestComputeDelayStrategies(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	require.Equal(t, time.Duration(0), computeDelay(Immediate, 1, base, max))
	require.Equal(t, 3*time.Second, computeDelay(Linear, 3, base, max))
	require.Equal(t, 4*time.Second, computeDelay(Exponential, 3, base, max))
	require.Equal(t, max, computeDelay(Linear, 100, base, max))

	jittered := computeDelay(ExponentialJitter, 3, base, max)
	require.GreaterOrEqual(t, jittered, 3*time.Second)
	require.LessOrEqual(t, jittered, 5*time.Second)
}

func TestAutoClassifiesConnectionLimited(t *testing.T) {
	st := newAutoState()
	attempts := []Attempt{
		{Outcome: Connected, LifetimeBeforeDrop: 5 * time.Second},
		{Outcome: Connected, LifetimeBeforeDrop: 10 * time.Second},
		{Outcome: Connected, LifetimeBeforeDrop: 8 * time.Second},
	}

	class, strat, racing := classify(attempts, st)
	require.Equal(t, ConnectionLimited, class)
	require.Equal(t, Linear, strat)
	require.Equal(t, LastWins, racing)
}

func TestAutoClassifiesLossy(t *testing.T) {
	st := newAutoState()
	attempts := []Attempt{
		{Outcome: Timeout},
		{Outcome: Refused},
		{Outcome: Connected, LifetimeBeforeDrop: 60 * time.Second},
	}

	class, strat, racing := classify(attempts, st)
	require.Equal(t, Lossy, class)
	require.Equal(t, Immediate, strat)
	require.Equal(t, FirstWins, racing)
}

func TestAutoClassifiesStable(t *testing.T) {
	st := newAutoState()
	attempts := []Attempt{
		{Outcome: Connected, LifetimeBeforeDrop: 60 * time.Second},
		{Outcome: Connected, LifetimeBeforeDrop: 90 * time.Second},
	}

	class, strat, racing := classify(attempts, st)
	require.Equal(t, Stable, class)
	require.Equal(t, ExponentialJitter, strat)
	require.Equal(t, RaceNone, racing)
}

func TestAutoFallbackAdvances(t *testing.T) {
	st := newAutoState()
	attempts := []Attempt{
		{Outcome: ProtocolError},
		{Outcome: ProtocolError},
		{Outcome: ProtocolError},
	}

	_, strat1, racing1 := classify(attempts, st)
	require.Equal(t, ExponentialJitter, strat1)
	require.Equal(t, RaceNone, racing1)

	_, strat2, racing2 := classify(attempts, st)
	require.Equal(t, ExponentialJitter, strat2)
	require.Equal(t, FirstWins, racing2)

	_, strat3, racing3 := classify(attempts, st)
	require.Equal(t, ExponentialJitter, strat3)
	require.Equal(t, LastWins, racing3)

	_, strat4, racing4 := classify(attempts, st)
	require.Equal(t, Linear, strat4)
	require.Equal(t, LastWins, racing4)
}

func TestControllerAutoDecidesAndRecords(t *testing.T) {
	c := NewController(DefaultConfig(), zerolog.Nop())

	d := c.Decide("cam.local:554")
	require.Equal(t, 1, d.AttemptNumber)

	c.RecordAttempt("cam.local:554", Attempt{Outcome: Timeout})

	history := c.History()
	require.NotEmpty(t, history)
}

func TestProfileStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	store1, err := NewProfileStore(dir, time.Hour, 10, zerolog.Nop())
	require.NoError(t, err)

	p := store1.Load("cam.local:554")
	p.update(0, true)
	p.update(0, true)
	store1.MarkDirty("cam.local:554")
	require.NoError(t, store1.Flush())

	store2, err := NewProfileStore(dir, time.Hour, 10, zerolog.Nop())
	require.NoError(t, err)

	p2 := store2.Load("cam.local:554")
	require.Equal(t, p.Arms[0].Alpha, p2.Arms[0].Alpha)
}

func TestProfileStoreDiscardsExpired(t *testing.T) {
	dir := t.TempDir()

	store1, err := NewProfileStore(dir, time.Millisecond, 10, zerolog.Nop())
	require.NoError(t, err)

	p := store1.Load("old.local:554")
	p.update(0, true)
	store1.MarkDirty("old.local:554")
	require.NoError(t, store1.Flush())

	time.Sleep(5 * time.Millisecond)

	store2, err := NewProfileStore(dir, time.Millisecond, 10, zerolog.Nop())
	require.NoError(t, err)

	fresh := store2.Load("old.local:554")
	require.Equal(t, float64(1), fresh.Arms[0].Alpha)
}

func TestProfileStoreDiscardsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewProfileStore(dir, time.Hour, 10, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.fileFor("bad.local:554"), []byte("not json"), 0o644))

	p := store.Load("bad.local:554")
	require.Equal(t, float64(1), p.Arms[0].Alpha)
}

func TestRaceFirstWinsReturnsFastest(t *testing.T) {
	dial := func(slow bool) func(ctx context.Context) (string, error) {
		return func(ctx context.Context) (string, error) {
			if slow {
				select {
				case <-time.After(200 * time.Millisecond):
					return "slow", nil
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			return "fast", nil
		}
	}

	calls := 0
	result, err := RaceFirstWins(context.Background(), 2, 10*time.Millisecond, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return dial(false)(ctx)
		}
		return dial(true)(ctx)
	})

	require.NoError(t, err)
	require.Equal(t, "fast", result)
}

func TestRaceFirstWinsReturnsErrorWhenAllFail(t *testing.T) {
	failErr := errors.New("refused")
	_, err := RaceFirstWins(context.Background(), 2, time.Millisecond, func(ctx context.Context) (string, error) {
		return "", failErr
	})
	require.Error(t, err)
}
