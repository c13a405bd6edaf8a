package compute

import (
	"fmt"
	"math"
)

// Mismatch is one element where the observed value differs from the reference.
type Mismatch struct {
	Index    int
	Expected float32
	Observed float32
}

func (m Mismatch) String() string {
	return fmt.Sprintf("index %d: expected %.7e, observed %.7e", m.Index, m.Expected, m.Observed)
}

// Tolerance defines acceptable numeric drift. The zero value demands
// bit-exact equality.
type Tolerance struct {
	Abs float64
	Rel float64
}

func (t Tolerance) exact() bool { return t.Abs == 0 && t.Rel == 0 }

type verifyOptions struct {
	tol         Tolerance
	maxReported int
}

type VerifyOption func(*verifyOptions)

// WithTolerance accepts |observed-expected| <= Abs + Rel*|expected|.
func WithTolerance(t Tolerance) VerifyOption {
	return func(o *verifyOptions) { o.tol = t }
}

// WithMaxReported caps the mismatches kept in the result. Every mismatch is
// still counted. n <= 0 keeps all of them.
func WithMaxReported(n int) VerifyOption {
	return func(o *verifyOptions) { o.maxReported = n }
}

// Result is the outcome of one comparison pass.
type Result struct {
	Compared   int
	Count      int
	Mismatches []Mismatch
}

func (r Result) OK() bool { return r.Count == 0 }

// Err returns a KindVerificationMismatch error carrying the reported
// mismatches, or nil when every element matched.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &Error{
		Kind:       KindVerificationMismatch,
		Op:         "verify",
		Err:        fmt.Errorf("%d of %d elements differ", r.Count, r.Compared),
		Mismatches: r.Mismatches,
	}
}

// Verify compares observed against reference element by element. It has no
// side effects; reporting is left to the caller.
func Verify(reference, observed []float32, opts ...VerifyOption) (Result, error) {
	if len(reference) != len(observed) {
		return Result{}, newError(KindSizeMismatch, "verify", "reference has %d elements, observed %d", len(reference), len(observed))
	}
	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}

	res := Result{Compared: len(reference)}
	for i, want := range reference {
		got := observed[i]
		if equal(want, got, o.tol) {
			continue
		}
		res.Count++
		if o.maxReported <= 0 || len(res.Mismatches) < o.maxReported {
			res.Mismatches = append(res.Mismatches, Mismatch{Index: i, Expected: want, Observed: got})
		}
	}
	return res, nil
}

func equal(want, got float32, tol Tolerance) bool {
	w, g := float64(want), float64(got)
	if math.IsNaN(w) || math.IsNaN(g) {
		return false
	}
	if tol.exact() || math.IsInf(w, 0) || math.IsInf(g, 0) {
		return math.Float32bits(want) == math.Float32bits(got)
	}
	return math.Abs(g-w) <= tol.Abs+tol.Rel*math.Abs(w)
}
