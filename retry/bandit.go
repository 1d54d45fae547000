package retry

import (
	"math"
	"math/rand"
	"time"
)

// banditArms is the fixed set of concrete (non-auto, non-adaptive)
// strategies the adaptive bandit chooses among. Racing is paired
// one-to-one with each entry below, following the same strategy/racing
// combinations the auto heuristic produces, so a learned preference for
// e.g. "Lossy-style" behavior maps onto a single arm.
var banditArms = []struct {
	Strategy Strategy
	Racing   RacingStrategy
}{
	{Immediate, FirstWins},
	{Linear, LastWins},
	{ExponentialJitter, RaceNone},
	{ExponentialJitter, FirstWins},
}

const (
	defaultExplorationRate      = 0.10
	defaultDiscoveryPhase       = 30 * time.Second
	defaultConfidenceThreshold  = 0.8
)

// betaArm is one arm's Beta(alpha, beta) posterior.
type betaArm struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

func newBetaArm() betaArm { return betaArm{Alpha: 1, Beta: 1} }

func (b betaArm) mean() float64 { return b.Alpha / (b.Alpha + b.Beta) }

// sample draws one Thompson sample from the arm's posterior via the
// Beta-as-ratio-of-Gammas identity, since math/rand has no native Beta
// distribution.
func (b betaArm) sample() float64 {
	x := gammaSample(b.Alpha)
	y := gammaSample(b.Beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gammaSample draws from Gamma(shape, 1) using Marsaglia and Tsang's
// method, valid for shape >= 1 (callers keep every arm's alpha/beta at
// or above 1, so the shape < 1 boost path is never exercised here).
func gammaSample(shape float64) float64 {
	if shape < 1 {
		return gammaSample(shape+1) * math.Pow(rand.Float64(), 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)

	for {
		var x, v float64
		for {
			x = rand.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rand.Float64()

		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// selectArm picks an arm index via Thompson sampling with an epsilon-
// greedy exploration overlay, or forces round-robin coverage during the
// discovery phase.
func selectArm(profile *ServerProfile, explorationRate float64, inDiscovery bool) int {
	if inDiscovery {
		return profile.AttemptCount % len(banditArms)
	}

	if rand.Float64() < explorationRate {
		return rand.Intn(len(banditArms))
	}

	best := 0
	bestSample := -1.0
	for i := range banditArms {
		s := profile.arm(i).sample()
		if s > bestSample {
			bestSample = s
			best = i
		}
	}
	return best
}

// confidentBest returns the arm index whose posterior mean is at least
// threshold and is the highest among all arms (the later arm wins a tie),
// or -1 if none qualifies.
func confidentBest(profile *ServerProfile, threshold float64) int {
	best := -1
	bestMean := threshold
	for i := range banditArms {
		m := profile.arm(i).mean()
		if m >= bestMean {
			bestMean = m
			best = i
		}
	}
	return best
}
