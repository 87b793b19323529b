package loss

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"

	"github.com/govi-ml/govi/internal/contract"
	"github.com/govi-ml/govi/internal/dist"
	"github.com/govi-ml/govi/internal/variate"
)

// Config configures a reverse-KL estimator.
type Config struct {
	// Objective selects the plain or stratified evidence lower bound.
	Objective Objective

	// Gradient selects the gradient mechanism.
	Gradient Gradient

	// NumSamples overrides the strategy's default Monte-Carlo sample
	// count. Zero selects the default.
	NumSamples int
}

// ReverseKL estimates the negated evidence lower bound and its gradient.
// The strategy is fixed at construction; Eval runs it against an
// approximating family and a batch of observations.
type ReverseKL struct {
	joint      dist.Target
	objective  Objective
	gradient   Gradient
	numSamples int
}

// NewReverseKL creates a reverse-KL estimator for the given joint
// distribution. All configuration faults are reported together; nothing is
// sampled until Eval.
func NewReverseKL(joint dist.Target, cfg Config) (*ReverseKL, error) {
	var errs error
	if joint == nil {
		errs = multierr.Append(errs, errors.New("loss: reverse KL requires a joint distribution"))
	}
	def, ok := defaultNumSamples[strategy{cfg.Objective, cfg.Gradient}]
	if !ok {
		errs = multierr.Append(errs, errors.Errorf("loss: invalid strategy (%v, %v): objective must be one of elbo, stratified-elbo", cfg.Objective, cfg.Gradient))
	}
	if cfg.NumSamples < 0 {
		errs = multierr.Append(errs, errors.Errorf("loss: sample count must not be negative, got %d", cfg.NumSamples))
	}
	if errs != nil {
		return nil, errs
	}
	n := cfg.NumSamples
	if n == 0 {
		n = def
	}
	return &ReverseKL{
		joint:      joint,
		objective:  cfg.Objective,
		gradient:   cfg.Gradient,
		numSamples: n,
	}, nil
}

// Eval estimates the loss and its gradient with respect to the family's
// user parameters. numSamples <= 0 selects the estimator's configured
// count. Returned shapes are (B) and (B, W).
func (r *ReverseKL) Eval(approx dist.Approximator, x *tensor.Dense, numSamples int) (*tensor.Dense, *tensor.Dense, error) {
	n := numSamples
	if n <= 0 {
		n = r.numSamples
	}
	phi, err := approx.Phi(x)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: natural parameters")
	}

	var lossVal, lossDelPhi *tensor.Dense
	switch r.objective {
	case ELBO:
		if r.gradient == Reparameterized {
			lossVal, lossDelPhi, err = r.elboReparam(approx, phi, x, n)
		} else {
			lossVal, lossDelPhi, err = r.elboCV(approx, phi, x, n)
		}
	case StratifiedELBO:
		if r.gradient == Reparameterized {
			lossVal, lossDelPhi, err = r.selboReparam(approx, phi, x, n)
		} else {
			lossVal, lossDelPhi, err = r.selboCV(approx, phi, x, n)
		}
	default:
		return nil, nil, errors.Errorf("loss: invalid objective %v", r.objective)
	}
	if err != nil {
		return nil, nil, err
	}

	lossDelParams, err := liftToParams(lossDelPhi, x, approx)
	if err != nil {
		return nil, nil, err
	}
	return lossVal, lossDelParams, nil
}

// elboReparam draws base noise, transforms it to latent samples, and
// differentiates the bound through the sampling path.
func (r *ReverseKL) elboReparam(approx dist.Approximator, phi, x *tensor.Dense, n int) (*tensor.Dense, *tensor.Dense, error) {
	rep, ok := approx.(dist.Reparameterizer)
	if !ok {
		return nil, nil, errors.New("loss: reparameterized gradients require a reparameterizable approximating family")
	}

	eps, err := rep.SampleBase(phi.Shape()[0], n)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: base noise")
	}
	theta, err := rep.Transform(eps, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: transform")
	}

	approxLP, err := approx.LogProb(theta, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: approximation log-density")
	}
	jointLP, err := r.joint.LogProb(theta, x)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: joint log-density")
	}
	lossSamples, err := jointLP.Sub(approxLP)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: elbo samples")
	}

	jac, err := rep.TransformGradPhi(eps, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: transform jacobian")
	}
	jGrad, err := jointGradPhi(r.joint, x, theta, jac)
	if err != nil {
		return nil, nil, err
	}
	aGrad, err := approxGradPhi(approx, phi, theta, jac)
	if err != nil {
		return nil, nil, err
	}
	gradSamples, err := jGrad.Sub(aGrad)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: elbo gradient samples")
	}

	return negMeans(lossSamples, gradSamples)
}

// elboCV draws latent samples directly and uses the score-function
// identity. The score gradient has exactly zero expectation and serves as
// the control variate.
func (r *ReverseKL) elboCV(approx dist.Approximator, phi, x *tensor.Dense, n int) (*tensor.Dense, *tensor.Dense, error) {
	theta, err := approx.Sample(n, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: sampling")
	}

	approxLP, err := approx.LogProb(theta, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: approximation log-density")
	}
	jointLP, err := r.joint.LogProb(theta, x)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: joint log-density")
	}
	score, err := approx.LogProbGradPhi(theta, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: score gradient")
	}

	lossSamples, err := jointLP.Sub(approxLP)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: elbo samples")
	}
	gradSamples, err := contract.ScaleBySample(lossSamples, score)
	if err != nil {
		return nil, nil, err
	}

	lossSamples, err = variate.Reduce(lossSamples, score, false)
	if err != nil {
		return nil, nil, err
	}
	gradSamples, err = variate.Reduce(gradSamples, score, false)
	if err != nil {
		return nil, nil, err
	}

	return negMeans(lossSamples, gradSamples)
}

// selboReparam samples every mixture component through its own transform,
// composes per-component reparameterized gradients, and combines them with
// the mixture coefficients.
func (r *ReverseKL) selboReparam(approx dist.Approximator, phi, x *tensor.Dense, n int) (*tensor.Dense, *tensor.Dense, error) {
	mix, ok := approx.(dist.Mixture)
	if !ok {
		return nil, nil, errors.New("loss: the stratified objective requires a mixture approximating family")
	}

	eps, err := mix.ComponentSampleBase(phi.Shape()[0], n)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: component base noise")
	}
	theta, err := mix.ComponentTransform(eps, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: component transform")
	}

	approxLP, err := mix.ComponentLogProb(theta, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: mixture log-density")
	}
	jointLP, err := perComponent(theta, func(t *tensor.Dense) (*tensor.Dense, error) {
		return r.joint.LogProb(t, x)
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: joint log-density")
	}
	lossSamples, err := jointLP.Sub(approxLP)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: stratified elbo samples")
	}

	jac, err := mix.ComponentTransformGradPhi(eps, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: component transform jacobian")
	}
	jointGradTheta, err := perComponent(theta, func(t *tensor.Dense) (*tensor.Dense, error) {
		return r.joint.LogProbGradTheta(t, x)
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: joint latent gradient")
	}
	jGrad, err := contract.ContractLatentComponents(jointGradTheta, jac)
	if err != nil {
		return nil, nil, err
	}
	aGrad, err := mixtureApproxGradPhi(mix, phi, theta, jac)
	if err != nil {
		return nil, nil, err
	}
	gradSamples, err := jGrad.Sub(aGrad)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: stratified gradient samples")
	}

	return r.combineComponents(mix, phi, lossSamples, gradSamples)
}

// selboCV is the stratified analogue of elboCV: per-component
// score-function samples, reduced per component with the component score
// as control variate, then coefficient-combined.
func (r *ReverseKL) selboCV(approx dist.Approximator, phi, x *tensor.Dense, n int) (*tensor.Dense, *tensor.Dense, error) {
	mix, ok := approx.(dist.Mixture)
	if !ok {
		return nil, nil, errors.New("loss: the stratified objective requires a mixture approximating family")
	}

	theta, err := mix.ComponentSample(n, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: component sampling")
	}

	approxLP, err := mix.ComponentLogProb(theta, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: mixture log-density")
	}
	jointLP, err := perComponent(theta, func(t *tensor.Dense) (*tensor.Dense, error) {
		return r.joint.LogProb(t, x)
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: joint log-density")
	}
	score, err := mix.ComponentLogProbGradPhi(theta, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: component score gradient")
	}

	lossSamples, err := jointLP.Sub(approxLP)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: stratified elbo samples")
	}

	// Collapse the component and batch axes so the reducer treats every
	// (component, batch) pair independently.
	ls := lossSamples.Shape()
	m, b, s := ls[0], ls[1], ls[2]
	p := score.Shape().TotalSize() / (m * b * s)
	lossFlat := contract.FromSlice(contract.Data(lossSamples), m*b, s)
	scoreFlat := contract.FromSlice(contract.Data(score), m*b, s, p)
	gradFlat, err := contract.ScaleBySample(lossFlat, scoreFlat)
	if err != nil {
		return nil, nil, err
	}

	lossFlat, err = variate.Reduce(lossFlat, scoreFlat, false)
	if err != nil {
		return nil, nil, err
	}
	gradFlat, err = variate.Reduce(gradFlat, scoreFlat, false)
	if err != nil {
		return nil, nil, err
	}

	lossSamples = contract.FromSlice(contract.Data(lossFlat), m, b, s)
	gradSamples := contract.FromSlice(contract.Data(gradFlat), m, b, s, p)
	return r.combineComponents(mix, phi, lossSamples, gradSamples)
}

// combineComponents weights per-component sample tensors by the mixture
// coefficients, then averages and negates.
func (r *ReverseKL) combineComponents(mix dist.Mixture, phi, lossSamples, gradSamples *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	coeffs, err := mix.Coefficients(phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: mixture coefficients")
	}
	combinedLoss, err := contract.CombineComponents(coeffs, lossSamples)
	if err != nil {
		return nil, nil, err
	}
	combinedGrad, err := contract.CombineComponents(coeffs, gradSamples)
	if err != nil {
		return nil, nil, err
	}
	return negMeans(combinedLoss, combinedGrad)
}

// negMeans averages both sample tensors over the sample axis and negates,
// producing the minimization loss and its phi gradient.
func negMeans(lossSamples, gradSamples *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	lossVal, err := contract.NegMeanSamples(lossSamples)
	if err != nil {
		return nil, nil, err
	}
	grad, err := contract.NegMeanSamples(gradSamples)
	if err != nil {
		return nil, nil, err
	}
	return lossVal, grad, nil
}
