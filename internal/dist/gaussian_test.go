package dist

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/govi-ml/govi/internal/contract"
)

// numericalGradPhi approximates the gradient of f with respect to phi entry
// (bi, pi) by central differences.
func numericalGradPhi(t *testing.T, f func(phi *tensor.Dense) float64, phi *tensor.Dense, bi, pi int) float64 {
	t.Helper()
	const h = 1e-6
	pd := contract.Data(phi)
	p := phi.Shape()[1]
	orig := pd[bi*p+pi]

	pd[bi*p+pi] = orig + h
	plus := f(phi)
	pd[bi*p+pi] = orig - h
	minus := f(phi)
	pd[bi*p+pi] = orig
	return (plus - minus) / (2 * h)
}

func TestGaussianLogProbClosedForm(t *testing.T) {
	g, err := NewGaussian([]float64{0.5}, []float64{math.Log(2.0)}, 1, 1)
	require.NoError(t, err)
	phi, err := g.Phi(nil)
	require.NoError(t, err)

	theta := contract.FromSlice([]float64{1.5}, 1, 1, 1)
	lp, err := g.LogProb(theta, phi)
	require.NoError(t, err)

	// N(1.5; 0.5, 2^2)
	want := -0.5*math.Log(2*math.Pi) - math.Log(2.0) - 0.5*0.25
	assert.InDelta(t, want, contract.Data(lp)[0], 1e-12)
}

func TestGaussianGradientsMatchFiniteDifferences(t *testing.T) {
	g, err := NewGaussian([]float64{0.3, -0.7}, []float64{0.1, -0.2}, 2, 2)
	require.NoError(t, err)
	phi, err := g.Phi(nil)
	require.NoError(t, err)

	theta := contract.FromSlice([]float64{
		0.5, -1.0,
		1.2, 0.4,
	}, 2, 1, 2)

	gradPhi, err := g.LogProbGradPhi(theta, phi)
	require.NoError(t, err)

	p := phi.Shape()[1]
	gd := contract.Data(gradPhi)
	for bi := 0; bi < 2; bi++ {
		for pi := 0; pi < p; pi++ {
			want := numericalGradPhi(t, func(phi *tensor.Dense) float64 {
				lp, err := g.LogProb(theta, phi)
				require.NoError(t, err)
				return contract.Data(lp)[bi]
			}, phi, bi, pi)
			assert.InDelta(t, want, gd[bi*p+pi], 1e-5, "phi gradient (%d, %d)", bi, pi)
		}
	}

	gradTheta, err := g.LogProbGradTheta(theta, phi)
	require.NoError(t, err)
	td, gtd := contract.Data(theta), contract.Data(gradTheta)
	const h = 1e-6
	for i := range td {
		orig := td[i]
		td[i] = orig + h
		lpPlus, err := g.LogProb(theta, phi)
		require.NoError(t, err)
		td[i] = orig - h
		lpMinus, err := g.LogProb(theta, phi)
		require.NoError(t, err)
		td[i] = orig
		bi := i / 2
		want := (contract.Data(lpPlus)[bi] - contract.Data(lpMinus)[bi]) / (2 * h)
		assert.InDelta(t, want, gtd[i], 1e-5, "theta gradient %d", i)
	}
}

func TestGaussianTransformJacobian(t *testing.T) {
	g, err := NewGaussian([]float64{0.0}, []float64{0.5}, 1, 3)
	require.NoError(t, err)
	phi, err := g.Phi(nil)
	require.NoError(t, err)

	eps := contract.FromSlice([]float64{1.7}, 1, 1, 1)
	jac, err := g.TransformGradPhi(eps, phi)
	require.NoError(t, err)
	require.True(t, jac.Shape().Eq(tensor.Shape{1, 1, 1, 2}))

	jd := contract.Data(jac)
	for pi := 0; pi < 2; pi++ {
		want := numericalGradPhi(t, func(phi *tensor.Dense) float64 {
			theta, err := g.Transform(eps, phi)
			require.NoError(t, err)
			return contract.Data(theta)[0]
		}, phi, 0, pi)
		assert.InDelta(t, want, jd[pi], 1e-5, "jacobian entry %d", pi)
	}
}

func TestGaussianSampleMoments(t *testing.T) {
	g, err := NewGaussian([]float64{2.0}, []float64{math.Log(0.5)}, 1, 42)
	require.NoError(t, err)
	phi, err := g.Phi(nil)
	require.NoError(t, err)

	theta, err := g.Sample(20000, phi)
	require.NoError(t, err)

	td := contract.Data(theta)
	mean := 0.0
	for _, v := range td {
		mean += v
	}
	mean /= float64(len(td))
	variance := 0.0
	for _, v := range td {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(td) - 1)

	assert.InDelta(t, 2.0, mean, 0.02)
	assert.InDelta(t, 0.25, variance, 0.02)
}

func TestGaussianShapeContractViolations(t *testing.T) {
	g, err := NewGaussian([]float64{0}, []float64{0}, 2, 1)
	require.NoError(t, err)
	phi, err := g.Phi(nil)
	require.NoError(t, err)

	badTheta := contract.New(2, 3, 4) // wrong latent dimension
	_, err = g.LogProb(badTheta, phi)
	assert.Error(t, err)

	badPhi := contract.New(2, 3)
	_, err = g.LogProb(contract.New(2, 3, 1), badPhi)
	assert.Error(t, err)
}

func TestAffineGaussianPhi(t *testing.T) {
	// phi = offset + jac * params with P=2 (D=1), W=1.
	jac := contract.FromSlice([]float64{2, 0}, 2, 1)
	ag, err := NewAffineGaussian(1, 3, jac, []float64{0.5, -0.1}, []float64{1.5}, 9)
	require.NoError(t, err)

	phi, err := ag.Phi(nil)
	require.NoError(t, err)
	require.True(t, phi.Shape().Eq(tensor.Shape{3, 2}))

	pd := contract.Data(phi)
	for b := 0; b < 3; b++ {
		assert.InDelta(t, 0.5+2*1.5, pd[b*2], 1e-12)
		assert.InDelta(t, -0.1, pd[b*2+1], 1e-12)
	}

	j, err := ag.PhiGradParams(nil)
	require.NoError(t, err)
	assert.Equal(t, jac, j)
}
