package tune

import (
	"context"

	"spindle/pkg/errs"
	"spindle/pkg/model"
)

// Coordinate improves one variable at a time and repeats until a full
// pass over the variables yields no improvement. List variables are
// scanned exhaustively; range variables hill-climb with a halving
// step. The evaluator's cache makes revisits free.
type Coordinate struct {
	eval *Evaluator
	vars []Variable

	// OnEval, when set, observes every evaluated state.
	OnEval func(s State, res model.BenchmarkResult, score float64, reason string)
}

func NewCoordinate(eval *Evaluator, vars []Variable) *Coordinate {
	return &Coordinate{eval: eval, vars: vars}
}

// Optimize returns the best state found, its result, and the score.
// Cancellation returns the best so far alongside the cancelled error.
func (c *Coordinate) Optimize(ctx context.Context) (State, model.BenchmarkResult, float64, error) {
	current := make(State, len(c.vars))
	for _, v := range c.vars {
		if len(v.Values) > 0 {
			current[v.Name] = v.Values[len(v.Values)/2]
		} else {
			current[v.Name] = (v.Range[0] + v.Range[1]) / 2
		}
	}

	bestRes, bestScore, _, err := c.evaluate(ctx, current)
	if err != nil {
		return nil, model.BenchmarkResult{}, 0, err
	}

	for {
		improved := false
		for _, v := range c.vars {
			if ctx.Err() != nil {
				return current, bestRes, bestScore, errs.Wrap(errs.KindCancelled, "tune interrupted", ctx.Err())
			}

			var (
				localVal   int64
				localRes   model.BenchmarkResult
				localScore float64
			)
			if len(v.Values) > 0 {
				localVal, localRes, localScore, err = c.scanList(ctx, current, v)
			} else {
				localVal, localRes, localScore, err = c.climbRange(ctx, current, v)
			}
			if err != nil {
				return current, bestRes, bestScore, err
			}

			if localScore > bestScore {
				current[v.Name] = localVal
				bestScore = localScore
				bestRes = localRes
				improved = true
			}
		}
		if !improved {
			break
		}
	}

	return current, bestRes, bestScore, nil
}

func (c *Coordinate) evaluate(ctx context.Context, s State) (model.BenchmarkResult, float64, string, error) {
	res, score, reason, err := c.eval.Evaluate(ctx, s)
	if err == nil && c.OnEval != nil {
		c.OnEval(s.clone(), res, score, reason)
	}
	return res, score, reason, err
}

func (c *Coordinate) scanList(ctx context.Context, s State, v Variable) (int64, model.BenchmarkResult, float64, error) {
	bestVal := s[v.Name]
	var bestRes model.BenchmarkResult
	bestScore := 0.0
	first := true

	probe := s.clone()
	for _, val := range v.Values {
		probe[v.Name] = val
		res, score, _, err := c.evaluate(ctx, probe)
		if err != nil {
			return 0, model.BenchmarkResult{}, 0, err
		}
		if first || score > bestScore {
			bestVal, bestRes, bestScore = val, res, score
			first = false
		}
	}
	return bestVal, bestRes, bestScore, nil
}

func (c *Coordinate) climbRange(ctx context.Context, s State, v Variable) (int64, model.BenchmarkResult, float64, error) {
	probe := s.clone()
	bestVal := probe[v.Name]
	bestRes, bestScore, _, err := c.evaluate(ctx, probe)
	if err != nil {
		return 0, model.BenchmarkResult{}, 0, err
	}

	step := (v.Range[1] - v.Range[0]) / 4
	if step < 1 {
		step = 1
	}
	for step >= 1 {
		improved := false
		for _, candidate := range []int64{bestVal + step, bestVal - step} {
			if candidate < v.Range[0] || candidate > v.Range[1] {
				continue
			}
			probe[v.Name] = candidate
			res, score, _, err := c.evaluate(ctx, probe)
			if err != nil {
				return 0, model.BenchmarkResult{}, 0, err
			}
			if score > bestScore {
				bestVal, bestRes, bestScore = candidate, res, score
				improved = true
				break
			}
		}
		if !improved {
			step /= 2
		}
	}

	return bestVal, bestRes, bestScore, nil
}
