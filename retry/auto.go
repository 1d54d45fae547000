package retry

import "time"

// fallbackToken is one entry of the auto heuristic's fallback list. Each
// token names either a retry Strategy or a RacingStrategy; applying it
// overrides that axis while leaving the other axis at its prior value.
// See DESIGN.md's Open Question decisions for why the fallback list is
// read this way: spec.md's literal list mixes strategy and racing names
// with no further structure, and this is the most direct reading that
// keeps every named value reachable.
type fallbackToken struct {
	strategy *Strategy
	racing   *RacingStrategy
}

func strategyToken(s Strategy) fallbackToken       { return fallbackToken{strategy: &s} }
func racingToken(r RacingStrategy) fallbackToken   { return fallbackToken{racing: &r} }

var fallbackList = []fallbackToken{
	strategyToken(ExponentialJitter),
	racingToken(FirstWins),
	racingToken(LastWins),
	strategyToken(Linear),
}

// autoState is the per-server state the auto heuristic carries across
// calls: the fallback cursor, advanced once per full 3-attempt failure
// window.
type autoState struct {
	fallbackIndex  int
	fallbackStrat  Strategy
	fallbackRacing RacingStrategy
}

func newAutoState() *autoState {
	return &autoState{fallbackStrat: ExponentialJitter, fallbackRacing: RaceNone}
}

func (a *autoState) advanceFallback() (Strategy, RacingStrategy) {
	tok := fallbackList[a.fallbackIndex%len(fallbackList)]
	a.fallbackIndex++

	if tok.strategy != nil {
		a.fallbackStrat = *tok.strategy
	}
	if tok.racing != nil {
		a.fallbackRacing = *tok.racing
	}

	return a.fallbackStrat, a.fallbackRacing
}

// classify applies the auto heuristic to the most recent (up to 3)
// attempts, oldest first, returning the classification and the
// resulting strategy/racing pair. When no rule matches, it advances and
// returns the fallback-list cursor.
func classify(recent []Attempt, st *autoState) (Classification, Strategy, RacingStrategy) {
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	connectedCount := 0
	shortLivedConnectedCount := 0
	networkFailureCount := 0

	for _, a := range recent {
		if a.Outcome == Connected {
			connectedCount++
			if a.LifetimeBeforeDrop > 0 && a.LifetimeBeforeDrop < 30*time.Second {
				shortLivedConnectedCount++
			}
		}
		if a.Outcome.isNetworkFailure() {
			networkFailureCount++
		}
	}

	full := len(recent) == 3

	switch {
	case connectedCount >= 2 && shortLivedConnectedCount >= 2:
		return ConnectionLimited, Linear, LastWins

	case full && networkFailureCount*2 > len(recent):
		return Lossy, Immediate, FirstWins

	case connectedCount >= 2 && shortLivedConnectedCount == 0:
		return Stable, ExponentialJitter, RaceNone

	default:
		if !full {
			return ClassUnknown, ExponentialJitter, RaceNone
		}
		strat, racing := st.advanceFallback()
		return ClassUnknown, strat, racing
	}
}
