package dist

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/govi-ml/govi/internal/contract"
)

var _ Target = (*GaussianTarget)(nil)

// GaussianTarget is a Gaussian joint density centered on the observations:
// p(theta | x_b) = N(theta; x_b, diag(sigma^2)). Each batch element carries
// its own center, so a batch of observations defines a batch of independent
// inference problems.
type GaussianTarget struct {
	std []float64
}

// NewGaussianTarget creates a Gaussian target with the given per-dimension
// standard deviations.
func NewGaussianTarget(std []float64) (*GaussianTarget, error) {
	if len(std) == 0 {
		return nil, errors.New("dist: gaussian target: need at least one dimension")
	}
	for i, s := range std {
		if s <= 0 {
			return nil, errors.Errorf("dist: gaussian target: standard deviation %d must be positive, got %v", i, s)
		}
	}
	return &GaussianTarget{std: std}, nil
}

func (t *GaussianTarget) check(theta, x *tensor.Dense) error {
	ts, xs := theta.Shape(), x.Shape()
	d := len(t.std)
	if len(ts) != 3 || ts[2] != d {
		return errors.Errorf("dist: gaussian target: theta shape %v does not match dimension %d", ts, d)
	}
	if len(xs) != 2 || xs[0] != ts[0] || xs[1] != d {
		return errors.Errorf("dist: gaussian target: observation shape %v does not match theta shape %v", xs, ts)
	}
	return nil
}

// LogProb returns the joint log-density, shape (B, S).
func (t *GaussianTarget) LogProb(theta, x *tensor.Dense) (*tensor.Dense, error) {
	if err := t.check(theta, x); err != nil {
		return nil, err
	}
	b, s, d := dims3(theta)
	out := contract.New(b, s)
	td, xd, od := contract.Data(theta), contract.Data(x), contract.Data(out)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			lp := 0.0
			for di := 0; di < d; di++ {
				z := (td[(bi*s+si)*d+di] - xd[bi*d+di]) / t.std[di]
				lp += -0.5*log2Pi - math.Log(t.std[di]) - 0.5*z*z
			}
			od[bi*s+si] = lp
		}
	}
	return out, nil
}

// LogProbGradTheta returns d log p / d theta, shape (B, S, D).
func (t *GaussianTarget) LogProbGradTheta(theta, x *tensor.Dense) (*tensor.Dense, error) {
	if err := t.check(theta, x); err != nil {
		return nil, err
	}
	b, s, d := dims3(theta)
	out := contract.New(b, s, d)
	td, xd, od := contract.Data(theta), contract.Data(x), contract.Data(out)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			base := (bi*s + si) * d
			for di := 0; di < d; di++ {
				od[base+di] = -(td[base+di] - xd[bi*d+di]) / (t.std[di] * t.std[di])
			}
		}
	}
	return out, nil
}
