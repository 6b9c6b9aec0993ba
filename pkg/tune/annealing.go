package tune

import (
	"context"
	"math"
	"math/rand"
	"time"

	"spindle/pkg/errs"
	"spindle/pkg/model"
)

// AnnealingParams shape the cooling schedule. Each evaluation is a
// full benchmark run, so the defaults keep the schedule short; the
// evaluator's cache absorbs revisits.
type AnnealingParams struct {
	InitialTemp     float64
	CoolingRate     float64
	MinTemp         float64
	StepsPerTemp    int
	RestartInterval int
	// Seed fixes the random walk; zero seeds from the clock.
	Seed int64
}

func DefaultAnnealingParams() AnnealingParams {
	return AnnealingParams{
		InitialTemp:     50,
		CoolingRate:     0.7,
		MinTemp:         1,
		StepsPerTemp:    2,
		RestartInterval: 6,
	}
}

// Annealing explores the space with simulated annealing: worse states
// are accepted with a probability that shrinks as the temperature
// drops, and an elitist restart jumps back to the best state after a
// dry spell.
type Annealing struct {
	eval   *Evaluator
	vars   []Variable
	params AnnealingParams
	rnd    *rand.Rand

	// OnEval, when set, observes every evaluated state.
	OnEval func(s State, res model.BenchmarkResult, score float64, reason string)
}

func NewAnnealing(eval *Evaluator, vars []Variable, params AnnealingParams) *Annealing {
	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Annealing{
		eval:   eval,
		vars:   vars,
		params: params,
		rnd:    rand.New(rand.NewSource(seed)),
	}
}

// Optimize returns the best state visited, its result, and the score.
// Cancellation returns the best so far alongside the cancelled error.
func (a *Annealing) Optimize(ctx context.Context) (State, model.BenchmarkResult, float64, error) {
	current := a.randomState()
	currentRes, currentScore, _, err := a.evaluate(ctx, current)
	if err != nil {
		return nil, model.BenchmarkResult{}, 0, err
	}

	best := current.clone()
	bestRes := currentRes
	bestScore := currentScore

	temp := a.params.InitialTemp
	sinceImprovement := 0
	for temp > a.params.MinTemp {
		for i := 0; i < a.params.StepsPerTemp; i++ {
			if ctx.Err() != nil {
				return best, bestRes, bestScore, errs.Wrap(errs.KindCancelled, "tune interrupted", ctx.Err())
			}
			sinceImprovement++

			neighbor := a.neighbor(current, temp/a.params.InitialTemp)
			res, score, _, err := a.evaluate(ctx, neighbor)
			if err != nil {
				return best, bestRes, bestScore, err
			}

			if a.accept(score-currentScore, temp) {
				current = neighbor
				currentScore = score
				currentRes = res
				if score > bestScore {
					best = neighbor.clone()
					bestScore = score
					bestRes = res
					sinceImprovement = 0
				}
			}

			if a.params.RestartInterval > 0 && sinceImprovement >= a.params.RestartInterval {
				current = best.clone()
				currentScore = bestScore
				currentRes = bestRes
				sinceImprovement = 0
			}
		}
		temp *= a.params.CoolingRate
	}

	return best, bestRes, bestScore, nil
}

func (a *Annealing) evaluate(ctx context.Context, s State) (model.BenchmarkResult, float64, string, error) {
	res, score, reason, err := a.eval.Evaluate(ctx, s)
	if err == nil && a.OnEval != nil {
		a.OnEval(s.clone(), res, score, reason)
	}
	return res, score, reason, err
}

// accept implements the Metropolis criterion.
func (a *Annealing) accept(delta, temp float64) bool {
	if delta > 0 {
		return true
	}
	exponent := delta / temp
	if exponent < -700 {
		return false
	}
	return math.Exp(exponent) > a.rnd.Float64()
}

func (a *Annealing) randomState() State {
	s := make(State, len(a.vars))
	for _, v := range a.vars {
		if len(v.Values) > 0 {
			s[v.Name] = v.Values[a.rnd.Intn(len(v.Values))]
		} else {
			span := v.Range[1] - v.Range[0]
			s[v.Name] = v.Range[0] + a.rnd.Int63n(span+1)
		}
	}
	return s
}

// neighbor perturbs one variable. Range jumps shrink with the
// temperature ratio; list variables hop to an adjacent value so block
// sizes move one power of two at a time.
func (a *Annealing) neighbor(s State, tempRatio float64) State {
	next := s.clone()
	v := a.vars[a.rnd.Intn(len(a.vars))]

	if len(v.Values) > 0 {
		idx := indexOf(v.Values, next[v.Name])
		if idx < 0 {
			next[v.Name] = v.Values[a.rnd.Intn(len(v.Values))]
			return next
		}
		if a.rnd.Intn(2) == 0 {
			idx++
		} else {
			idx--
		}
		if idx < 0 {
			idx = 1 % len(v.Values)
		}
		if idx >= len(v.Values) {
			idx = len(v.Values) - 2
			if idx < 0 {
				idx = 0
			}
		}
		next[v.Name] = v.Values[idx]
		return next
	}

	span := v.Range[1] - v.Range[0]
	maxJump := float64(span) * tempRatio
	if maxJump < 1 {
		maxJump = 1
	}
	jump := int64(a.rnd.NormFloat64() * maxJump)
	if jump == 0 {
		if a.rnd.Intn(2) == 0 {
			jump = 1
		} else {
			jump = -1
		}
	}
	val := next[v.Name] + jump
	if val < v.Range[0] {
		val = v.Range[0]
	}
	if val > v.Range[1] {
		val = v.Range[1]
	}
	next[v.Name] = val
	return next
}

func indexOf(vals []int64, want int64) int {
	for i, v := range vals {
		if v == want {
			return i
		}
	}
	return -1
}
