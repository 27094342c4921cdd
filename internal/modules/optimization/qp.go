package optimization

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Solver tolerances.
const (
	activeTol     = 1e-10 // constraint counted as active at the starting point
	stepTol       = 1e-11 // |p|∞ below this means the working-set problem is solved
	flatTol       = 1e-20 // objective change along p below this also counts as solved
	multiplierTol = 1e-10 // most negative multiplier tolerated at optimality
	blockTol      = 1e-14 // a·p must be below -blockTol for constraint to block
	feasibleTol   = 1e-9  // post-solve feasibility check
	ridgeScale    = 1e-12 // relative ridge keeping the KKT system nonsingular
)

// qpProblem is
//
//	minimize   ½ wᵀGw
//	subject to Σw = 1, lower ≤ w ≤ upper, retᵀw ≥ target (when ret != nil)
//
// Inequality constraint ids: [0,n) lower bounds, [n,2n) upper bounds, 2n the
// return constraint.
type qpProblem struct {
	G       *mat.SymDense
	lower   []float64
	upper   []float64
	ret     []float64
	target  float64
	maxIter int
}

type qpStatus int

const (
	qpOptimal qpStatus = iota
	qpInfeasible
	qpIterationLimit
	qpSingular
)

type qpSolution struct {
	w          []float64
	status     qpStatus
	iterations int
	reason     string
}

func (q *qpProblem) n() int { return len(q.lower) }

func (q *qpProblem) numInequalities() int {
	if q.ret != nil {
		return 2*q.n() + 1
	}
	return 2 * q.n()
}

// dot evaluates the left-hand side of inequality c at x.
func (q *qpProblem) dot(c int, x []float64) float64 {
	n := q.n()
	switch {
	case c < n:
		return x[c]
	case c < 2*n:
		return -x[c-n]
	default:
		return floats.Dot(q.ret, x)
	}
}

// rhs returns the right-hand side of inequality c.
func (q *qpProblem) rhs(c int) float64 {
	n := q.n()
	switch {
	case c < n:
		return q.lower[c]
	case c < 2*n:
		return -q.upper[c-n]
	default:
		return q.target
	}
}

// row writes the normal of inequality c into dst.
func (q *qpProblem) row(c int, dst []float64) {
	n := q.n()
	for i := range dst {
		dst[i] = 0
	}
	switch {
	case c < n:
		dst[c] = 1
	case c < 2*n:
		dst[c-n] = -1
	default:
		copy(dst, q.ret)
	}
}

// solve runs the primal active-set method from the feasible point w0.
func (q *qpProblem) solve(w0 []float64) qpSolution {
	n := q.n()
	w := append([]float64(nil), w0...)

	G := ridged(q.G)
	working := q.initialWorkingSet(w)

	maxIter := q.maxIter
	if maxIter <= 0 {
		maxIter = 10*(2*n+2) + 50
	}

	g := make([]float64, n)
	degenerate := false
	for iter := 1; iter <= maxIter; iter++ {
		gv := mat.NewVecDense(n, g)
		gv.MulVec(G, mat.NewVecDense(n, w))

		p, lambda, err := q.solveKKT(G, g, working)
		if err != nil {
			return qpSolution{w: w, status: qpSingular, iterations: iter, reason: err.Error()}
		}

		if floats.Norm(p, math.Inf(1)) <= stepTol || objectiveChange(G, g, p) <= flatTol {
			drop := dropCandidate(working, lambda, degenerate)
			if drop < 0 {
				return qpSolution{w: w, status: qpOptimal, iterations: iter}
			}
			working = append(working[:drop], working[drop+1:]...)
			continue
		}

		alpha, blocking := 1.0, -1
		inWorking := make(map[int]bool, len(working))
		for _, c := range working {
			inWorking[c] = true
		}
		for c := 0; c < q.numInequalities(); c++ {
			if inWorking[c] {
				continue
			}
			d := q.dot(c, p)
			if d >= -blockTol {
				continue
			}
			step := math.Max(0, (q.dot(c, w)-q.rhs(c))/(-d))
			if step < alpha {
				alpha, blocking = step, c
			}
		}

		floats.AddScaled(w, alpha, p)
		degenerate = blocking >= 0 && alpha == 0
		if blocking >= 0 {
			working = append(working, blocking)
			q.snap(blocking, w)
		}
	}

	return qpSolution{
		w:          w,
		status:     qpIterationLimit,
		iterations: maxIter,
		reason:     fmt.Sprintf("iteration limit reached (%d) before the active set settled", maxIter),
	}
}

// dropCandidate picks the working constraint to release, or -1 when every
// multiplier is nonnegative. Normally the most negative multiplier goes;
// after a zero-length step the lowest constraint id goes (Bland's rule).
func dropCandidate(working []int, lambda []float64, degenerate bool) int {
	drop, minLambda := -1, -multiplierTol
	for k, l := range lambda {
		if l >= -multiplierTol {
			continue
		}
		if degenerate {
			if drop < 0 || working[k] < working[drop] {
				drop = k
			}
			continue
		}
		if l < minLambda {
			drop, minLambda = k, l
		}
	}
	return drop
}

// objectiveChange is |g'p| + ½p'Gp. Along a flat direction of a
// semi-definite G the step itself is numerical noise but this stays tiny.
func objectiveChange(G *mat.SymDense, g, p []float64) float64 {
	pv := mat.NewVecDense(len(p), p)
	return math.Abs(floats.Dot(g, p)) + 0.5*mat.Inner(pv, G, pv)
}

// initialWorkingSet collects the inequalities active at w whose normals are
// linearly independent of the budget row and of each other.
func (q *qpProblem) initialWorkingSet(w []float64) []int {
	n := q.n()
	basis := make([][]float64, 0, n)
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	addIfIndependent(&basis, ones)

	// The return constraint goes first so a start on the target keeps it.
	order := make([]int, 0, q.numInequalities())
	if q.ret != nil {
		order = append(order, 2*n)
	}
	for c := 0; c < 2*n; c++ {
		order = append(order, c)
	}

	var working []int
	row := make([]float64, n)
	for _, c := range order {
		if len(basis) >= n {
			break
		}
		if math.Abs(q.dot(c, w)-q.rhs(c)) > activeTol {
			continue
		}
		q.row(c, row)
		if addIfIndependent(&basis, row) {
			working = append(working, c)
		}
	}
	return working
}

// snap pins a newly active bound to its exact value.
func (q *qpProblem) snap(c int, w []float64) {
	n := q.n()
	switch {
	case c < n:
		w[c] = q.lower[c]
	case c < 2*n:
		w[c-n] = q.upper[c-n]
	}
}

// solveKKT solves
//
//	[G  Aᵀ] [p]   [-g]
//	[A  0 ] [ν] = [ 0]
//
// where A stacks the budget row and the working inequalities. The returned
// multipliers λ = -ν cover the working inequalities only.
func (q *qpProblem) solveKKT(G *mat.SymDense, g []float64, working []int) ([]float64, []float64, error) {
	n := q.n()
	m := 1 + len(working)
	size := n + m

	K := mat.NewDense(size, size, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			K.Set(i, j, G.At(i, j))
		}
		K.Set(i, n, 1)
		K.Set(n, i, 1)
	}
	row := make([]float64, n)
	for k, c := range working {
		q.row(c, row)
		for i := 0; i < n; i++ {
			K.Set(i, n+1+k, row[i])
			K.Set(n+1+k, i, row[i])
		}
	}

	b := mat.NewVecDense(size, nil)
	for i := 0; i < n; i++ {
		b.SetVec(i, -g[i])
	}

	var x mat.VecDense
	if err := x.SolveVec(K, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) || math.IsNaN(float64(cond)) {
			return nil, nil, fmt.Errorf("singular KKT system with %d active constraints: %w", len(working), err)
		}
	}

	p := make([]float64, n)
	for i := 0; i < n; i++ {
		p[i] = x.AtVec(i)
	}
	lambda := make([]float64, len(working))
	for k := range working {
		lambda[k] = -x.AtVec(n + 1 + k)
	}
	for _, v := range p {
		if !isFinite(v) {
			return nil, nil, fmt.Errorf("KKT solve produced non-finite step")
		}
	}
	return p, lambda, nil
}

// feasibleStart returns a point satisfying every constraint, starting from
// the uniform allocation and moving toward the maximum-return allocation
// only as far as the return constraint requires.
func (q *qpProblem) feasibleStart() ([]float64, bool, string) {
	n := q.n()
	sumLower, sumUpper := floats.Sum(q.lower), floats.Sum(q.upper)
	if sumLower > 1+feasibleTol || sumUpper < 1-feasibleTol {
		return nil, false, fmt.Sprintf("weight bounds admit no fully invested portfolio (sum of lower bounds %g, sum of upper bounds %g)", sumLower, sumUpper)
	}

	start := q.projectUniform()
	if q.ret == nil {
		return start, true, ""
	}

	startReturn := floats.Dot(q.ret, start)
	if startReturn >= q.target {
		return start, true, ""
	}

	best := q.maxReturnAllocation()
	bestReturn := floats.Dot(q.ret, best)
	if bestReturn < q.target-1e-12 {
		return nil, false, fmt.Sprintf("target return %g exceeds the maximum achievable return %g under the weight bounds", q.target, bestReturn)
	}

	alpha := 1.0
	if bestReturn > startReturn {
		alpha = math.Min(1, (q.target-startReturn)/(bestReturn-startReturn))
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = start[i] + alpha*(best[i]-start[i])
	}
	return w, true, ""
}

// projectUniform returns 1/n per asset when that respects the bounds,
// otherwise the bounded allocation clip(1/n + τ) summing to one.
func (q *qpProblem) projectUniform() []float64 {
	n := q.n()
	u := 1 / float64(n)
	w := make([]float64, n)
	inside := true
	for i := range w {
		w[i] = u
		if u < q.lower[i] || u > q.upper[i] {
			inside = false
		}
	}
	if inside {
		return w
	}

	clipped := func(tau float64) float64 {
		var s float64
		for i := range w {
			w[i] = math.Max(q.lower[i], math.Min(q.upper[i], u+tau))
			s += w[i]
		}
		return s
	}
	lo, hi := -1.0-u, 1.0
	for k := 0; k < 200; k++ {
		mid := 0.5 * (lo + hi)
		if clipped(mid) < 1 {
			lo = mid
		} else {
			hi = mid
		}
	}
	clipped(hi)
	return w
}

// maxReturnAllocation fills the budget above the lower bounds in order of
// decreasing expected return. Ties keep asset order.
func (q *qpProblem) maxReturnAllocation() []float64 {
	n := q.n()
	w := append([]float64(nil), q.lower...)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return q.ret[order[a]] > q.ret[order[b]] })

	remaining := 1 - floats.Sum(w)
	for _, i := range order {
		if remaining <= 0 {
			break
		}
		add := math.Min(q.upper[i]-q.lower[i], remaining)
		w[i] += add
		remaining -= add
	}
	return w
}

// ridged returns G + δI with δ proportional to the largest variance.
func ridged(G *mat.SymDense) *mat.SymDense {
	n := G.SymmetricDim()
	maxDiag := 0.0
	for i := 0; i < n; i++ {
		maxDiag = math.Max(maxDiag, math.Abs(G.At(i, i)))
	}
	delta := ridgeScale * math.Max(maxDiag, 1)
	out := mat.NewSymDense(n, nil)
	out.CopySym(G)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, out.At(i, i)+delta)
	}
	return out
}

// addIfIndependent appends v's orthonormalized residual to basis when v is
// not (numerically) in the span of basis.
func addIfIndependent(basis *[][]float64, v []float64) bool {
	r := append([]float64(nil), v...)
	for _, b := range *basis {
		floats.AddScaled(r, -floats.Dot(b, r), b)
	}
	norm := floats.Norm(r, 2)
	if norm <= 1e-9*math.Max(1, floats.Norm(v, 2)) {
		return false
	}
	floats.Scale(1/norm, r)
	*basis = append(*basis, r)
	return true
}
