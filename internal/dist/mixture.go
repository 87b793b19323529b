package dist

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"github.com/govi-ml/govi/internal/contract"
)

var (
	_ Approximator = (*GaussianMixture)(nil)
	_ Mixture      = (*GaussianMixture)(nil)
)

// GaussianMixture is a mixture of M mean-field Gaussians over a
// D-dimensional latent with fixed mixture coefficients. The natural
// parameters concatenate the per-component Gaussian parameters, so
// P = M*2D; component m owns the slice phi[m*2D : (m+1)*2D], laid out as
// means then log standard deviations.
//
// The coefficients are held outside phi and treated as constants by the
// estimators; only the component parameters receive gradients.
type GaussianMixture struct {
	dim    int
	coeffs []float64
	phi    *tensor.Dense // (B, M*2D)
	unit   distuv.Normal
}

// NewGaussianMixture creates a mixture family. means and logStds hold one
// row per component; coeffs must be positive and sum to one.
func NewGaussianMixture(means, logStds [][]float64, coeffs []float64, numBatch int, seed uint64) (*GaussianMixture, error) {
	m := len(coeffs)
	if m == 0 || len(means) != m || len(logStds) != m {
		return nil, errors.Errorf("dist: gaussian mixture: need matching component counts, got %d coefficients, %d means, %d log-stds", m, len(means), len(logStds))
	}
	sum := 0.0
	for i, c := range coeffs {
		if c <= 0 {
			return nil, errors.Errorf("dist: gaussian mixture: coefficient %d must be positive, got %v", i, c)
		}
		sum += c
	}
	if math.Abs(sum-1) > 1e-9 {
		return nil, errors.Errorf("dist: gaussian mixture: coefficients must sum to one, got %v", sum)
	}
	d := len(means[0])
	for i := range means {
		if len(means[i]) != d || len(logStds[i]) != d {
			return nil, errors.Errorf("dist: gaussian mixture: component %d has inconsistent dimension", i)
		}
	}
	if numBatch <= 0 {
		return nil, errors.Errorf("dist: gaussian mixture: number of batch elements must be positive, got %d", numBatch)
	}

	phi := contract.New(numBatch, m*2*d)
	pd := contract.Data(phi)
	for b := 0; b < numBatch; b++ {
		for mi := 0; mi < m; mi++ {
			base := b*m*2*d + mi*2*d
			copy(pd[base:], means[mi])
			copy(pd[base+d:], logStds[mi])
		}
	}
	cc := make([]float64, m)
	copy(cc, coeffs)
	return &GaussianMixture{
		dim:    d,
		coeffs: cc,
		phi:    phi,
		unit:   distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)},
	}, nil
}

// Dim returns the latent dimension D.
func (g *GaussianMixture) Dim() int { return g.dim }

// NumComponents returns the number of mixture components.
func (g *GaussianMixture) NumComponents() int { return len(g.coeffs) }

// Phi returns the natural parameters, shape (B, M*2D).
func (g *GaussianMixture) Phi(x *tensor.Dense) (*tensor.Dense, error) {
	return g.phi, nil
}

// Coefficients returns the mixture weights, shape (M).
func (g *GaussianMixture) Coefficients(phi *tensor.Dense) (*tensor.Dense, error) {
	cc := make([]float64, len(g.coeffs))
	copy(cc, g.coeffs)
	return contract.FromSlice(cc, len(cc)), nil
}

func (g *GaussianMixture) checkPhi(phi *tensor.Dense) error {
	s := phi.Shape()
	if len(s) != 2 || s[1] != len(g.coeffs)*2*g.dim {
		return errors.Errorf("dist: gaussian mixture: phi shape %v does not match %d components of dimension %d", s, len(g.coeffs), g.dim)
	}
	return nil
}

// componentAt reads component mi's mean and log-std for batch element bi.
func (g *GaussianMixture) componentAt(pd []float64, bi, mi int) (mean, logStd []float64) {
	m, d := len(g.coeffs), g.dim
	base := bi*m*2*d + mi*2*d
	return pd[base : base+d], pd[base+d : base+2*d]
}

// logProbAt evaluates the full mixture log-density at a single latent
// point, together with per-component responsibilities when resp is
// non-nil.
func (g *GaussianMixture) logProbAt(pd []float64, bi int, point []float64, resp []float64) float64 {
	m, d := len(g.coeffs), g.dim
	maxLP := math.Inf(-1)
	lps := make([]float64, m)
	for mi := 0; mi < m; mi++ {
		mean, logStd := g.componentAt(pd, bi, mi)
		lp := math.Log(g.coeffs[mi])
		for di := 0; di < d; di++ {
			z := (point[di] - mean[di]) * math.Exp(-logStd[di])
			lp += -0.5*log2Pi - logStd[di] - 0.5*z*z
		}
		lps[mi] = lp
		if lp > maxLP {
			maxLP = lp
		}
	}
	sum := 0.0
	for mi := 0; mi < m; mi++ {
		sum += math.Exp(lps[mi] - maxLP)
	}
	lse := maxLP + math.Log(sum)
	if resp != nil {
		for mi := 0; mi < m; mi++ {
			resp[mi] = math.Exp(lps[mi] - lse)
		}
	}
	return lse
}

// Sample draws from the full mixture by component selection,
// shape (B, S, D).
func (g *GaussianMixture) Sample(numSamples int, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkPhi(phi); err != nil {
		return nil, err
	}
	if numSamples <= 0 {
		return nil, errors.Errorf("dist: gaussian mixture: sample count must be positive, got %d", numSamples)
	}
	b, d := phi.Shape()[0], g.dim
	out := contract.New(b, numSamples, d)
	pd, od := contract.Data(phi), contract.Data(out)
	uniform := distuv.Uniform{Min: 0, Max: 1, Src: g.unit.Src}
	for bi := 0; bi < b; bi++ {
		for si := 0; si < numSamples; si++ {
			mi := pickComponent(g.coeffs, uniform.Rand())
			mean, logStd := g.componentAt(pd, bi, mi)
			base := (bi*numSamples + si) * d
			for di := 0; di < d; di++ {
				od[base+di] = mean[di] + math.Exp(logStd[di])*g.unit.Rand()
			}
		}
	}
	return out, nil
}

func pickComponent(coeffs []float64, u float64) int {
	acc := 0.0
	for i, c := range coeffs {
		acc += c
		if u < acc {
			return i
		}
	}
	return len(coeffs) - 1
}

// LogProb returns the mixture log-density, shape (B, S).
func (g *GaussianMixture) LogProb(theta, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkTheta(theta, phi); err != nil {
		return nil, err
	}
	b, s, d := dims3(theta)
	out := contract.New(b, s)
	td, pd, od := contract.Data(theta), contract.Data(phi), contract.Data(out)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			point := td[(bi*s+si)*d : (bi*s+si+1)*d]
			od[bi*s+si] = g.logProbAt(pd, bi, point, nil)
		}
	}
	return out, nil
}

// LogProbGradTheta returns the responsibility-weighted sum of component
// gradients, shape (B, S, D).
func (g *GaussianMixture) LogProbGradTheta(theta, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkTheta(theta, phi); err != nil {
		return nil, err
	}
	b, s, d := dims3(theta)
	m := len(g.coeffs)
	out := contract.New(b, s, d)
	td, pd, od := contract.Data(theta), contract.Data(phi), contract.Data(out)
	resp := make([]float64, m)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			base := (bi*s + si) * d
			point := td[base : base+d]
			g.logProbAt(pd, bi, point, resp)
			for mi := 0; mi < m; mi++ {
				mean, logStd := g.componentAt(pd, bi, mi)
				for di := 0; di < d; di++ {
					inv := math.Exp(-logStd[di])
					od[base+di] += resp[mi] * -(point[di] - mean[di]) * inv * inv
				}
			}
		}
	}
	return out, nil
}

// LogProbGradPhi returns d log q / d phi at fixed theta, shape (B, S, P).
// Component m's block receives its responsibility-weighted Gaussian
// parameter gradient.
func (g *GaussianMixture) LogProbGradPhi(theta, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkTheta(theta, phi); err != nil {
		return nil, err
	}
	b, s, d := dims3(theta)
	m := len(g.coeffs)
	p := m * 2 * d
	out := contract.New(b, s, p)
	td, pd, od := contract.Data(theta), contract.Data(phi), contract.Data(out)
	resp := make([]float64, m)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			point := td[(bi*s+si)*d : (bi*s+si+1)*d]
			g.logProbAt(pd, bi, point, resp)
			row := (bi*s + si) * p
			for mi := 0; mi < m; mi++ {
				mean, logStd := g.componentAt(pd, bi, mi)
				for di := 0; di < d; di++ {
					inv := math.Exp(-logStd[di])
					z := (point[di] - mean[di]) * inv
					od[row+mi*2*d+di] = resp[mi] * z * inv
					od[row+mi*2*d+d+di] = resp[mi] * (z*z - 1)
				}
			}
		}
	}
	return out, nil
}

// ComponentSample draws from each component separately,
// shape (M, B, S, D).
func (g *GaussianMixture) ComponentSample(numSamples int, phi *tensor.Dense) (*tensor.Dense, error) {
	eps, err := g.ComponentSampleBase(phi.Shape()[0], numSamples)
	if err != nil {
		return nil, err
	}
	return g.ComponentTransform(eps, phi)
}

// ComponentSampleBase draws per-component standard normal base noise,
// shape (M, B, S, D).
func (g *GaussianMixture) ComponentSampleBase(numBatch, numSamples int) (*tensor.Dense, error) {
	if numBatch <= 0 || numSamples <= 0 {
		return nil, errors.Errorf("dist: gaussian mixture: batch and sample counts must be positive, got %d and %d", numBatch, numSamples)
	}
	eps := contract.New(len(g.coeffs), numBatch, numSamples, g.dim)
	ed := contract.Data(eps)
	for i := range ed {
		ed[i] = g.unit.Rand()
	}
	return eps, nil
}

func (g *GaussianMixture) checkTheta(theta, phi *tensor.Dense) error {
	if err := g.checkPhi(phi); err != nil {
		return err
	}
	s := theta.Shape()
	if len(s) != 3 || s[0] != phi.Shape()[0] || s[2] != g.dim {
		return errors.Errorf("dist: gaussian mixture: theta shape %v does not match phi shape %v", s, phi.Shape())
	}
	return nil
}

func (g *GaussianMixture) checkComponentTheta(theta, phi *tensor.Dense) error {
	if err := g.checkPhi(phi); err != nil {
		return err
	}
	s := theta.Shape()
	if len(s) != 4 || s[0] != len(g.coeffs) || s[1] != phi.Shape()[0] || s[3] != g.dim {
		return errors.Errorf("dist: gaussian mixture: component theta shape %v does not match %d components and phi shape %v", s, len(g.coeffs), phi.Shape())
	}
	return nil
}

// ComponentTransform maps per-component base noise through each
// component's reparameterization, shape (M, B, S, D).
func (g *GaussianMixture) ComponentTransform(epsilon, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkComponentTheta(epsilon, phi); err != nil {
		return nil, err
	}
	m, b, s, d := dims4(epsilon)
	out := contract.New(m, b, s, d)
	ed, pd, od := contract.Data(epsilon), contract.Data(phi), contract.Data(out)
	for mi := 0; mi < m; mi++ {
		for bi := 0; bi < b; bi++ {
			mean, logStd := g.componentAt(pd, bi, mi)
			for si := 0; si < s; si++ {
				base := ((mi*b+bi)*s + si) * d
				for di := 0; di < d; di++ {
					od[base+di] = mean[di] + math.Exp(logStd[di])*ed[base+di]
				}
			}
		}
	}
	return out, nil
}

// ComponentTransformGradPhi is the per-component Jacobian of the transform,
// shape (M, B, S, D, P). Component m's samples depend only on its own phi
// block, so rows outside that block are zero.
func (g *GaussianMixture) ComponentTransformGradPhi(epsilon, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkComponentTheta(epsilon, phi); err != nil {
		return nil, err
	}
	m, b, s, d := dims4(epsilon)
	p := m * 2 * d
	out := contract.New(m, b, s, d, p)
	ed, pd, od := contract.Data(epsilon), contract.Data(phi), contract.Data(out)
	for mi := 0; mi < m; mi++ {
		for bi := 0; bi < b; bi++ {
			_, logStd := g.componentAt(pd, bi, mi)
			for si := 0; si < s; si++ {
				for di := 0; di < d; di++ {
					row := (((mi*b+bi)*s+si)*d + di) * p
					od[row+mi*2*d+di] = 1
					od[row+mi*2*d+d+di] = math.Exp(logStd[di]) * ed[((mi*b+bi)*s+si)*d+di]
				}
			}
		}
	}
	return out, nil
}

// ComponentLogProb evaluates the full mixture log-density at each
// component's samples, shape (M, B, S).
func (g *GaussianMixture) ComponentLogProb(theta, phi *tensor.Dense) (*tensor.Dense, error) {
	if err := g.checkComponentTheta(theta, phi); err != nil {
		return nil, err
	}
	m, b, s, d := dims4(theta)
	out := contract.New(m, b, s)
	td, pd, od := contract.Data(theta), contract.Data(phi), contract.Data(out)
	for mi := 0; mi < m; mi++ {
		for bi := 0; bi < b; bi++ {
			for si := 0; si < s; si++ {
				base := ((mi*b+bi)*s + si) * d
				od[(mi*b+bi)*s+si] = g.logProbAt(pd, bi, td[base:base+d], nil)
			}
		}
	}
	return out, nil
}

// ComponentLogProbGradTheta evaluates the mixture's latent gradient at each
// component's samples, shape (M, B, S, D).
func (g *GaussianMixture) ComponentLogProbGradTheta(theta, phi *tensor.Dense) (*tensor.Dense, error) {
	return g.componentApply(theta, phi, g.LogProbGradTheta)
}

// ComponentLogProbGradPhi evaluates the mixture's phi gradient at each
// component's samples, shape (M, B, S, P).
func (g *GaussianMixture) ComponentLogProbGradPhi(theta, phi *tensor.Dense) (*tensor.Dense, error) {
	return g.componentApply(theta, phi, g.LogProbGradPhi)
}

// componentApply runs a (B, S, D) -> (B, S, K) evaluation once per
// component slice of a (M, B, S, D) tensor and stacks the results.
func (g *GaussianMixture) componentApply(theta, phi *tensor.Dense, f func(theta, phi *tensor.Dense) (*tensor.Dense, error)) (*tensor.Dense, error) {
	if err := g.checkComponentTheta(theta, phi); err != nil {
		return nil, err
	}
	m, b, s, d := dims4(theta)
	td := contract.Data(theta)
	var out *tensor.Dense
	var od []float64
	sliceLen := b * s * d
	for mi := 0; mi < m; mi++ {
		slice := contract.FromSlice(td[mi*sliceLen:(mi+1)*sliceLen], b, s, d)
		res, err := f(slice, phi)
		if err != nil {
			return nil, err
		}
		rd := contract.Data(res)
		if out == nil {
			outShape := append(tensor.Shape{m}, res.Shape()...)
			out = contract.New(outShape...)
			od = contract.Data(out)
		}
		copy(od[mi*len(rd):], rd)
	}
	return out, nil
}

func dims4(t *tensor.Dense) (int, int, int, int) {
	s := t.Shape()
	return s[0], s[1], s[2], s[3]
}
