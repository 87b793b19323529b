package dist

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"github.com/govi-ml/govi/internal/contract"
)

const log2Pi = 1.8378770664093453

// Verify capability sets at compile time.
var (
	_ Approximator    = (*Gaussian)(nil)
	_ Reparameterizer = (*Gaussian)(nil)
)

// Gaussian is a mean-field Gaussian approximating family over a
// D-dimensional latent. Its natural parameters are the per-dimension means
// followed by the per-dimension log standard deviations, so P = 2D:
//
//	phi = (mu_1 .. mu_D, log sigma_1 .. log sigma_D)
//
// The family owns one phi row per batch element. Sampling is
// reparameterized: theta = mu + sigma * epsilon with standard normal base
// noise.
type Gaussian struct {
	dim  int
	phi  *tensor.Dense // (B, 2D)
	unit distuv.Normal
}

// NewGaussian creates a Gaussian family with every batch element
// initialized to the given mean and log standard deviation vectors.
func NewGaussian(mean, logStd []float64, numBatch int, seed uint64) (*Gaussian, error) {
	if len(mean) == 0 || len(mean) != len(logStd) {
		return nil, errors.Errorf("dist: gaussian: mean and log-std must be non-empty and equal length, got %d and %d", len(mean), len(logStd))
	}
	if numBatch <= 0 {
		return nil, errors.Errorf("dist: gaussian: number of batch elements must be positive, got %d", numBatch)
	}
	d := len(mean)
	phi := contract.New(numBatch, 2*d)
	pd := contract.Data(phi)
	for b := 0; b < numBatch; b++ {
		copy(pd[b*2*d:], mean)
		copy(pd[b*2*d+d:], logStd)
	}
	return &Gaussian{
		dim:  d,
		phi:  phi,
		unit: distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)},
	}, nil
}

// Dim returns the latent dimension D.
func (g *Gaussian) Dim() int { return g.dim }

// Phi returns the family's natural parameters, shape (B, 2D). The
// observations are unused: this family is not amortized.
func (g *Gaussian) Phi(x *tensor.Dense) (*tensor.Dense, error) {
	return g.phi, nil
}

func (g *Gaussian) checkPhi(phi *tensor.Dense) error {
	s := phi.Shape()
	if len(s) != 2 || s[1] != 2*g.dim {
		return errors.Errorf("dist: gaussian: phi shape %v does not match latent dimension %d", s, g.dim)
	}
	return nil
}

func (g *Gaussian) checkTheta(theta, phi *tensor.Dense) error {
	if err := g.checkPhi(phi); err != nil {
		return err
	}
	s := theta.Shape()
	if len(s) != 3 || s[0] != phi.Shape()[0] || s[2] != g.dim {
		return errors.Errorf("dist: gaussian: theta shape %v does not match phi shape %v", s, phi.Shape())
	}
	return nil
}

// Sample draws theta directly from the family, shape (B, S, D).
func (g *Gaussian) Sample(numSamples int, phi *tensor.Dense) (*tensor.Dense, error) {
	eps, err := g.SampleBase(phi.Shape()[0], numSamples)
	if err != nil {
		return nil, err
	}
	return g.Transform(eps, phi)
}

// SampleBase draws standard normal base noise, shape (B, S, D).
func (g *Gaussian) SampleBase(numBatch, numSamples int) (*tensor.Dense, error) {
	if numBatch <= 0 || numSamples <= 0 {
		return nil, errors.Errorf("dist: gaussian: batch and sample counts must be positive, got %d and %d", numBatch, numSamples)
	}
	eps := contract.New(numBatch, numSamples, g.dim)
	ed := contract.Data(eps)
	for i := range ed {
		ed[i] = g.unit.Rand()
	}
	return eps, nil
}

// Transform maps base noise to latent samples: theta = mu + sigma*epsilon.
func (g *Gaussian) Transform(epsilon, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkTheta(epsilon, phi); err != nil {
		return nil, err
	}
	b, s, d := dims3(epsilon)
	out := contract.New(b, s, d)
	ed, pd, od := contract.Data(epsilon), contract.Data(phi), contract.Data(out)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			base := (bi*s + si) * d
			for di := 0; di < d; di++ {
				mu := pd[bi*2*d+di]
				sigma := math.Exp(pd[bi*2*d+d+di])
				od[base+di] = mu + sigma*ed[base+di]
			}
		}
	}
	return out, nil
}

// TransformGradPhi is the Jacobian of the transform with respect to phi,
// shape (B, S, D, 2D). Row d has a one in the mean slot d and
// sigma_d*epsilon_d in the log-std slot D+d.
func (g *Gaussian) TransformGradPhi(epsilon, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkTheta(epsilon, phi); err != nil {
		return nil, err
	}
	b, s, d := dims3(epsilon)
	p := 2 * d
	out := contract.New(b, s, d, p)
	ed, pd, od := contract.Data(epsilon), contract.Data(phi), contract.Data(out)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			for di := 0; di < d; di++ {
				row := ((bi*s+si)*d + di) * p
				od[row+di] = 1
				od[row+d+di] = math.Exp(pd[bi*2*d+d+di]) * ed[(bi*s+si)*d+di]
			}
		}
	}
	return out, nil
}

// LogProb returns the log-density, shape (B, S).
func (g *Gaussian) LogProb(theta, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkTheta(theta, phi); err != nil {
		return nil, err
	}
	b, s, d := dims3(theta)
	out := contract.New(b, s)
	td, pd, od := contract.Data(theta), contract.Data(phi), contract.Data(out)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			lp := 0.0
			for di := 0; di < d; di++ {
				mu := pd[bi*2*d+di]
				ls := pd[bi*2*d+d+di]
				z := (td[(bi*s+si)*d+di] - mu) * math.Exp(-ls)
				lp += -0.5*log2Pi - ls - 0.5*z*z
			}
			od[bi*s+si] = lp
		}
	}
	return out, nil
}

// LogProbGradTheta returns d log q / d theta, shape (B, S, D).
func (g *Gaussian) LogProbGradTheta(theta, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkTheta(theta, phi); err != nil {
		return nil, err
	}
	b, s, d := dims3(theta)
	out := contract.New(b, s, d)
	td, pd, od := contract.Data(theta), contract.Data(phi), contract.Data(out)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			base := (bi*s + si) * d
			for di := 0; di < d; di++ {
				mu := pd[bi*2*d+di]
				inv := math.Exp(-pd[bi*2*d+d+di])
				od[base+di] = -(td[base+di] - mu) * inv * inv
			}
		}
	}
	return out, nil
}

// LogProbGradPhi returns d log q / d phi at fixed theta, shape (B, S, 2D).
func (g *Gaussian) LogProbGradPhi(theta, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkTheta(theta, phi); err != nil {
		return nil, err
	}
	b, s, d := dims3(theta)
	out := contract.New(b, s, 2*d)
	td, pd, od := contract.Data(theta), contract.Data(phi), contract.Data(out)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			for di := 0; di < d; di++ {
				mu := pd[bi*2*d+di]
				inv := math.Exp(-pd[bi*2*d+d+di])
				z := (td[(bi*s+si)*d+di] - mu) * inv
				od[(bi*s+si)*2*d+di] = z * inv
				od[(bi*s+si)*2*d+d+di] = z*z - 1
			}
		}
	}
	return out, nil
}

func dims3(t *tensor.Dense) (int, int, int) {
	s := t.Shape()
	return s[0], s[1], s[2]
}
