// Package solver implements the LMSR cost/price functions, the Bregman
// divergence they induce, and a Frank-Wolfe projection of an observed
// price vector onto a cluster's marginal polytope.
//
// All monetary arithmetic elsewhere in the engine uses fixed-precision
// decimals; this package is the one place float64 is used, confined to the
// LMSR exponentials, with inputs clamped to avoid overflow.
package solver

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// clampBound keeps q_i/b within a range where math.Exp never overflows
	// float64 (exp(40) ~ 2.35e17, comfortably below float64 max).
	clampBound = 40.0
)

// clamp bounds x/b to [-clampBound, clampBound].
func clamp(x float64) float64 {
	if x > clampBound {
		return clampBound
	}
	if x < -clampBound {
		return -clampBound
	}
	return x
}

// LMSRCost computes C(q) = b * log(sum(exp(q_i / b))).
func LMSRCost(q []float64, b float64) float64 {
	sum := 0.0
	for _, qi := range q {
		sum += math.Exp(clamp(qi / b))
	}
	return b * math.Log(sum)
}

// LMSRPrices computes p_i = exp(q_i/b) / sum(exp(q_j/b)), the gradient of
// LMSRCost — a point in the simplex.
func LMSRPrices(q []float64, b float64) []float64 {
	exps := make([]float64, len(q))
	sum := 0.0
	for i, qi := range q {
		exps[i] = math.Exp(clamp(qi / b))
		sum += exps[i]
	}
	out := make([]float64, len(q))
	for i := range exps {
		out[i] = exps[i] / sum
	}
	return out
}

// BregmanDivergence computes D(p,p') = C(q) - C(q') - grad(q')·(q-q') for
// the LMSR potential, using its prices as the gradient.
func BregmanDivergence(q, qPrime []float64, b float64) float64 {
	cq := LMSRCost(q, b)
	cqp := LMSRCost(qPrime, b)
	grad := LMSRPrices(qPrime, b)
	dot := 0.0
	for i := range q {
		dot += grad[i] * (q[i] - qPrime[i])
	}
	return cq - cqp - dot
}

// BregmanGradient returns the gradient of D(·, qPrime) evaluated at q, which
// equals grad(q) - grad(qPrime) for the LMSR potential.
func BregmanGradient(q, qPrime []float64, b float64) []float64 {
	gq := LMSRPrices(q, b)
	gqp := LMSRPrices(qPrime, b)
	out := make([]float64, len(q))
	for i := range q {
		out[i] = gq[i] - gqp[i]
	}
	return out
}

// ConstraintSense is the relation a linear constraint enforces.
type ConstraintSense int

const (
	LessEqual ConstraintSense = iota
	Equal
)

// Constraint is one linear constraint sum(coef_i * x_i) <sense> rhs over a
// subset of a cluster's outcome indices.
type Constraint struct {
	Indices []int
	Sense   ConstraintSense
	RHS     float64
}

// Polytope is the marginal polytope of a cluster: non-negativity plus a set
// of linear constraints (MutuallyExclusive -> LessEqual 1, ExactlyOne ->
// Equal 1) over the cluster's outcome indices.
type Polytope struct {
	Dim         int
	Constraints []Constraint
}

// LPSolver is the delegation port for polytopes the simplex/product-of-
// simplices fast path doesn't cover (spec §4.7).
type LPSolver interface {
	// MinimizeLinear returns the vertex of the polytope minimizing
	// sum(grad_i * x_i).
	MinimizeLinear(p Polytope, grad []float64) ([]float64, error)
}

// FrankWolfeConfig tunes the conditional-gradient loop.
type FrankWolfeConfig struct {
	B        float64 // LMSR liquidity parameter
	MaxIters int
	Epsilon  float64 // duality-gap convergence tolerance
	LP       LPSolver // optional fallback for non-simplex polytopes
}

// FrankWolfeResult is the outcome of a projection run.
type FrankWolfeResult struct {
	Iterate    []decimal.Decimal
	Gap        decimal.Decimal
	Converged  bool
	Iterations int
}

// Project runs the Frank-Wolfe loop, projecting the observed point q0 onto
// polytope p in Bregman divergence induced by the LMSR potential. If
// warmStart is non-nil it seeds the first iterate instead of a cold-start
// vertex.
//
// The reported Gap is not the loop's internal duality-gap diagnostic (which
// trends to zero at convergence regardless of whether q0 itself violates p,
// since it measures distance to the optimum rather than the size of the
// original violation). For the simplex/product-of-simplices constraints
// every caller in this codebase uses, Gap is instead the closed-form slack
// of q0 against p's bound — the quantity spec's cluster-arbitrage examples
// call the edge. For delegate (non-simplex) polytopes with no closed form,
// the loop's final duality gap is used as the best available estimate.
func Project(q0 []decimal.Decimal, p Polytope, cfg FrankWolfeConfig, warmStart []decimal.Decimal) (FrankWolfeResult, error) {
	q0f := toFloats(q0)

	var iterate []float64
	switch {
	case warmStart != nil && len(warmStart) == len(q0f):
		iterate = toFloats(warmStart)
	default:
		// A cold-start iterate seeded at q0 itself makes the first
		// BregmanGradient(iterate, q0f, b) call identically zero
		// (grad(q0)-grad(q0)), since BregmanGradient is the gradient of
		// D(., q0) evaluated at its own reference point. That collapses
		// the duality-gap check to 0 on iteration one regardless of p or
		// q0, so every cold run "converges" before taking a single real
		// step. Seed instead at the polytope vertex that is cheapest to
		// acquire under q0's own marginal prices, a genuine point of p.
		seed, err := minimizeLinear(p, negate(LMSRPrices(q0f, cfg.B)), cfg)
		if err != nil {
			return FrankWolfeResult{}, err
		}
		iterate = seed
	}

	dualGap := math.Inf(1)
	iterations := 0
	converged := false

	for k := 0; k < cfg.MaxIters; k++ {
		iterations = k + 1
		grad := BregmanGradient(iterate, q0f, cfg.B)

		vertex, err := minimizeLinear(p, grad, cfg)
		if err != nil {
			return FrankWolfeResult{}, err
		}

		// duality gap: <grad, iterate - vertex>
		g := 0.0
		for i := range grad {
			g += grad[i] * (iterate[i] - vertex[i])
		}
		if g < 0 {
			g = 0
		}
		dualGap = g
		if dualGap <= cfg.Epsilon {
			converged = true
			break
		}

		// step size gamma = 2/(k+2), the standard Frank-Wolfe schedule
		gamma := 2.0 / float64(k+2)
		next := make([]float64, len(iterate))
		for i := range iterate {
			next[i] = (1-gamma)*iterate[i] + gamma*vertex[i]
		}
		iterate = next
	}

	gap := dualGap
	if isSimplexLike(p) {
		gap = polytopeSlack(p, q0f)
	}

	return FrankWolfeResult{
		Iterate:    toDecimals(iterate),
		Gap:        decimal.NewFromFloat(gap),
		Converged:  converged,
		Iterations: iterations,
	}, nil
}

// polytopeSlack computes, for a simplex-like polytope (every constraint
// spans the full dimension), how far x sits from each constraint's bound:
// for LessEqual, the remaining headroom (rhs - sum); for Equal, the absolute
// deviation. The most binding constraint determines the result, floored at
// zero (a point already past a LessEqual bound has no slack, not a negative
// one).
func polytopeSlack(p Polytope, x []float64) float64 {
	best := math.Inf(1)
	for _, c := range p.Constraints {
		sum := 0.0
		for _, i := range c.Indices {
			sum += x[i]
		}
		var slack float64
		switch c.Sense {
		case Equal:
			slack = math.Abs(sum - c.RHS)
		default: // LessEqual
			slack = c.RHS - sum
			if slack < 0 {
				slack = 0
			}
		}
		if slack < best {
			best = slack
		}
	}
	if math.IsInf(best, 1) {
		return 0
	}
	return best
}

func negate(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = -x
	}
	return out
}

// minimizeLinear solves the Frank-Wolfe linear subproblem. When the
// polytope is a single simplex/product-of-simplices constraint (every
// constraint spans all dims with coefficient 1) the vertex solution is a
// one-hot vector at the index with least gradient; otherwise it delegates
// to cfg.LP, falling back to the same one-hot vertex when cfg.LP is nil.
func minimizeLinear(p Polytope, grad []float64, cfg FrankWolfeConfig) ([]float64, error) {
	if isSimplexLike(p) {
		return simplexVertex(p, grad), nil
	}
	if cfg.LP == nil {
		return simplexVertex(p, grad), nil
	}
	return cfg.LP.MinimizeLinear(p, grad)
}

// isSimplexLike reports whether every constraint in p spans the full
// dimension with unit coefficients (the ExactlyOne / MutuallyExclusive
// shapes that admit a closed-form vertex solve).
func isSimplexLike(p Polytope) bool {
	for _, c := range p.Constraints {
		if len(c.Indices) != p.Dim {
			return false
		}
	}
	return true
}

// simplexVertex returns the vertex of the simplex {x >= 0, sum(x) <= rhs}
// (or = rhs) minimizing <grad, x>: all mass at the least-gradient index.
func simplexVertex(p Polytope, grad []float64) []float64 {
	rhs := 1.0
	for _, c := range p.Constraints {
		rhs = c.RHS
		break
	}
	best := 0
	for i := 1; i < len(grad); i++ {
		if grad[i] < grad[best] {
			best = i
		}
	}
	out := make([]float64, p.Dim)
	if grad[best] < 0 {
		out[best] = rhs
	}
	return out
}

func toFloats(ds []decimal.Decimal) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		f, _ := d.Float64()
		out[i] = f
	}
	return out
}

func toDecimals(fs []float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(fs))
	for i, f := range fs {
		out[i] = decimal.NewFromFloat(f)
	}
	return out
}
