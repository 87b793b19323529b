package dist

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/govi-ml/govi/internal/contract"
)

func newTestMixture(t *testing.T, numBatch int) *GaussianMixture {
	t.Helper()
	mix, err := NewGaussianMixture(
		[][]float64{{-1.0}, {2.0}},
		[][]float64{{0.0}, {math.Log(0.5)}},
		[]float64{0.3, 0.7},
		numBatch, 11,
	)
	require.NoError(t, err)
	return mix
}

func TestMixtureCoefficientValidation(t *testing.T) {
	_, err := NewGaussianMixture(
		[][]float64{{0}, {1}},
		[][]float64{{0}, {0}},
		[]float64{0.5, 0.6},
		1, 1,
	)
	assert.Error(t, err, "coefficients not summing to one must be rejected")
}

func TestMixtureLogProbIsLogSumExp(t *testing.T) {
	mix := newTestMixture(t, 1)
	phi, err := mix.Phi(nil)
	require.NoError(t, err)

	theta := contract.FromSlice([]float64{0.5}, 1, 1, 1)
	lp, err := mix.LogProb(theta, phi)
	require.NoError(t, err)

	lp1 := -0.5*math.Log(2*math.Pi) - 0 - 0.5*math.Pow(0.5-(-1.0), 2)
	lp2 := -0.5*math.Log(2*math.Pi) - math.Log(0.5) - 0.5*math.Pow((0.5-2.0)/0.5, 2)
	want := math.Log(0.3*math.Exp(lp1) + 0.7*math.Exp(lp2))
	assert.InDelta(t, want, contract.Data(lp)[0], 1e-12)
}

func TestMixtureGradPhiMatchesFiniteDifferences(t *testing.T) {
	mix := newTestMixture(t, 1)
	phi, err := mix.Phi(nil)
	require.NoError(t, err)

	theta := contract.FromSlice([]float64{0.8}, 1, 1, 1)
	grad, err := mix.LogProbGradPhi(theta, phi)
	require.NoError(t, err)

	p := phi.Shape()[1]
	gd := contract.Data(grad)
	for pi := 0; pi < p; pi++ {
		want := numericalGradPhi(t, func(phi *tensor.Dense) float64 {
			lp, err := mix.LogProb(theta, phi)
			require.NoError(t, err)
			return contract.Data(lp)[0]
		}, phi, 0, pi)
		assert.InDelta(t, want, gd[pi], 1e-5, "phi gradient %d", pi)
	}
}

func TestMixtureComponentTransform(t *testing.T) {
	mix := newTestMixture(t, 2)
	phi, err := mix.Phi(nil)
	require.NoError(t, err)

	eps := contract.New(2, 2, 3, 1) // zero base noise
	theta, err := mix.ComponentTransform(eps, phi)
	require.NoError(t, err)
	require.True(t, theta.Shape().Eq(tensor.Shape{2, 2, 3, 1}))

	td := contract.Data(theta)
	// Component 0 collapses to its mean -1, component 1 to 2.
	for i := 0; i < 6; i++ {
		assert.InDelta(t, -1.0, td[i], 1e-12)
	}
	for i := 6; i < 12; i++ {
		assert.InDelta(t, 2.0, td[i], 1e-12)
	}
}

func TestMixtureComponentTransformJacobian(t *testing.T) {
	mix := newTestMixture(t, 1)
	phi, err := mix.Phi(nil)
	require.NoError(t, err)

	eps := contract.FromSlice([]float64{0.4, -1.1}, 2, 1, 1, 1)
	jac, err := mix.ComponentTransformGradPhi(eps, phi)
	require.NoError(t, err)
	require.True(t, jac.Shape().Eq(tensor.Shape{2, 1, 1, 1, 4}))

	jd := contract.Data(jac)
	// Component 0 block: d theta / d mu_0 = 1, d theta / d ls_0 = sigma*eps.
	assert.InDelta(t, 1.0, jd[0], 1e-12)
	assert.InDelta(t, 1.0*0.4, jd[1], 1e-12)
	assert.InDelta(t, 0.0, jd[2], 1e-12)
	assert.InDelta(t, 0.0, jd[3], 1e-12)
	// Component 1 block.
	assert.InDelta(t, 0.0, jd[4], 1e-12)
	assert.InDelta(t, 0.0, jd[5], 1e-12)
	assert.InDelta(t, 1.0, jd[6], 1e-12)
	assert.InDelta(t, 0.5*-1.1, jd[7], 1e-12)
}

func TestMixtureComponentLogProbMatchesFull(t *testing.T) {
	mix := newTestMixture(t, 1)
	phi, err := mix.Phi(nil)
	require.NoError(t, err)

	theta := contract.FromSlice([]float64{0.2, 1.4}, 2, 1, 1, 1)
	lp, err := mix.ComponentLogProb(theta, phi)
	require.NoError(t, err)
	require.True(t, lp.Shape().Eq(tensor.Shape{2, 1, 1}))

	for mi, point := range []float64{0.2, 1.4} {
		flat := contract.FromSlice([]float64{point}, 1, 1, 1)
		full, err := mix.LogProb(flat, phi)
		require.NoError(t, err)
		assert.InDelta(t, contract.Data(full)[0], contract.Data(lp)[mi], 1e-12)
	}
}

func TestMixtureSampleMoments(t *testing.T) {
	mix := newTestMixture(t, 1)
	phi, err := mix.Phi(nil)
	require.NoError(t, err)

	theta, err := mix.Sample(40000, phi)
	require.NoError(t, err)

	td := contract.Data(theta)
	mean := 0.0
	for _, v := range td {
		mean += v
	}
	mean /= float64(len(td))
	// Mixture mean: 0.3*(-1) + 0.7*2 = 1.1.
	assert.InDelta(t, 1.1, mean, 0.05)
}
