package loss

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/govi-ml/govi/internal/contract"
	"github.com/govi-ml/govi/internal/dist"
)

// jointGradPhi composes the joint's latent gradient with the Jacobian of
// the reparameterization map:
//
//	d log p / d phi = (d log p / d theta) · (d theta / d phi)
//
// Shapes: theta (B, S, D), jac (B, S, D, P), result (B, S, P).
func jointGradPhi(joint dist.Target, x, theta, jac *tensor.Dense) (*tensor.Dense, error) {
	g, err := joint.LogProbGradTheta(theta, x)
	if err != nil {
		return nil, errors.Wrap(err, "loss: joint latent gradient")
	}
	return contract.ContractLatent(g, jac)
}

// approxGradPhi applies the total-derivative rule for the approximation's
// log-density, which depends on phi both through the sampled theta and
// directly:
//
//	d log q / d phi = (d log q / d theta) · (d theta / d phi) + d log q / d phi |_theta
//
// Shapes: theta (B, S, D), jac (B, S, D, P), result (B, S, P).
func approxGradPhi(approx dist.Approximator, phi, theta, jac *tensor.Dense) (*tensor.Dense, error) {
	gTheta, err := approx.LogProbGradTheta(theta, phi)
	if err != nil {
		return nil, errors.Wrap(err, "loss: approximation latent gradient")
	}
	chained, err := contract.ContractLatent(gTheta, jac)
	if err != nil {
		return nil, err
	}
	gPhi, err := approx.LogProbGradPhi(theta, phi)
	if err != nil {
		return nil, errors.Wrap(err, "loss: approximation phi gradient")
	}
	return chained.Add(gPhi)
}

// mixtureApproxGradPhi is approxGradPhi with a leading component axis:
// every per-component quantity keeps its component slot and is combined by
// the caller with the mixture coefficients.
//
// Shapes: theta (M, B, S, D), jac (M, B, S, D, P), result (M, B, S, P).
func mixtureApproxGradPhi(mix dist.Mixture, phi, theta, jac *tensor.Dense) (*tensor.Dense, error) {
	gTheta, err := mix.ComponentLogProbGradTheta(theta, phi)
	if err != nil {
		return nil, errors.Wrap(err, "loss: mixture latent gradient")
	}
	chained, err := contract.ContractLatentComponents(gTheta, jac)
	if err != nil {
		return nil, err
	}
	gPhi, err := mix.ComponentLogProbGradPhi(theta, phi)
	if err != nil {
		return nil, errors.Wrap(err, "loss: mixture phi gradient")
	}
	return chained.Add(gPhi)
}

// perComponent evaluates a batched (B, S, D) operation once per component
// slice of a (M, B, S, D) tensor and stacks the results along a new
// leading component axis.
func perComponent(theta *tensor.Dense, f func(theta *tensor.Dense) (*tensor.Dense, error)) (*tensor.Dense, error) {
	ts := theta.Shape()
	if len(ts) != 4 {
		return nil, errors.Errorf("loss: per-component evaluation needs a (component, batch, sample, latent) tensor, got shape %v", ts)
	}
	m := ts[0]
	sliceLen := ts[1] * ts[2] * ts[3]
	td := contract.Data(theta)

	var out *tensor.Dense
	var od []float64
	for mi := 0; mi < m; mi++ {
		slice := contract.FromSlice(td[mi*sliceLen:(mi+1)*sliceLen], ts[1], ts[2], ts[3])
		res, err := f(slice)
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
