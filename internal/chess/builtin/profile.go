package builtin

import (
	"errors"
	"math"
	"math/rand"
)

// profile shapes how strong the builtin engine plays at a given skill level.
type profile struct {
	Depth          int
	PrimaryChoices int
	Weights        []float64
	EvalNoise      int
}

var profiles = []struct {
	maxSkill int
	p        profile
}{
	{2, profile{Depth: 1, PrimaryChoices: 4, Weights: []float64{0.4, 0.3, 0.2, 0.1}, EvalNoise: 60}},
	{7, profile{Depth: 1, PrimaryChoices: 3, Weights: []float64{0.6, 0.25, 0.15}, EvalNoise: 30}},
	{12, profile{Depth: 2, PrimaryChoices: 2, Weights: []float64{0.8, 0.2}, EvalNoise: 10}},
	{17, profile{Depth: 2, PrimaryChoices: 1, Weights: []float64{1}}},
	{20, profile{Depth: 3, PrimaryChoices: 1, Weights: []float64{1}}},
}

func profileFor(skill int) profile {
	for _, entry := range profiles {
		if skill <= entry.maxSkill {
			return entry.p
		}
	}
	return profiles[len(profiles)-1].p
}

type candidate struct {
	Move   string
	EvalCP int
}

// selectCandidate picks among the best candidates, which must be sorted best
// first. A forced move (the only legal one) is always returned.
func selectCandidate(p profile, candidates []candidate, r *rand.Rand) (candidate, error) {
	if len(candidates) == 0 {
		return candidate{}, errors.New("no candidates to choose from")
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	limit := p.PrimaryChoices
	if limit > len(candidates) {
		limit = len(candidates)
	}
	if limit > len(p.Weights) {
		limit = len(p.Weights)
	}
	if limit <= 1 {
		return candidates[0], nil
	}
	// never trade a mate for a coin flip
	if candidates[0].EvalCP >= mateScore-maxPly {
		return candidates[0], nil
	}

	total := 0.0
	for i := 0; i < limit; i++ {
		total += p.Weights[i]
	}
	if total == 0 {
		return candidate{}, errors.New("candidate weights sum to zero")
	}

	threshold := r.Float64() * total
	index := 0
	for i := 0; i < limit; i++ {
		threshold -= p.Weights[i]
		if threshold <= 0 {
			index = i
			break
		}
	}

	choice := candidates[index]
	if p.EvalNoise > 0 {
		offset := r.Intn(2*p.EvalNoise+1) - p.EvalNoise
		choice.EvalCP = saturatingAdd(choice.EvalCP, offset)
	}
	return choice, nil
}

func saturatingAdd(a, b int) int {
	sum := int64(a) + int64(b)
	if sum > math.MaxInt {
		return math.MaxInt
	}
	if sum < math.MinInt {
		return math.MinInt
	}
	return int(sum)
}
