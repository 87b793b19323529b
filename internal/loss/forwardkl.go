package loss

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"

	"github.com/govi-ml/govi/internal/contract"
	"github.com/govi-ml/govi/internal/dist"
	"github.com/govi-ml/govi/internal/variate"
)

// ForwardKLConfig configures a forward-KL estimator. At least one of Joint
// and PosteriorSamples must be set; when PosteriorSamples is present the
// joint is never consulted.
type ForwardKLConfig struct {
	// Joint is the target distribution, used to importance-weight
	// samples drawn from the approximation.
	Joint dist.Target

	// PosteriorSamples are ground-truth posterior draws of shape
	// (B, S, D). When set, the estimator fits the approximation to them
	// directly and performs no sampling of its own.
	PosteriorSamples *tensor.Dense

	// Reparameterized selects the reparameterized gradient path instead
	// of the control-variate path. Ignored when PosteriorSamples is set.
	Reparameterized bool

	// NumSamples overrides the default Monte-Carlo sample count.
	// Zero selects the default.
	NumSamples int
}

// ForwardKL estimates the forward Kullback-Leibler divergence from the
// target to the approximation (equivalently, a negative cross-entropy
// against the posterior). Its sampling-based paths use self-normalized
// importance weights, so the estimates are consistent rather than
// unbiased.
type ForwardKL struct {
	joint      dist.Target
	posterior  *tensor.Dense
	reparam    bool
	numSamples int
}

// NewForwardKL creates a forward-KL estimator. All configuration faults
// are reported together; nothing is sampled until Eval.
func NewForwardKL(cfg ForwardKLConfig) (*ForwardKL, error) {
	var errs error
	if cfg.Joint == nil && cfg.PosteriorSamples == nil {
		errs = multierr.Append(errs, errors.New("loss: forward KL requires a joint distribution or posterior samples"))
	}
	if cfg.PosteriorSamples != nil && len(cfg.PosteriorSamples.Shape()) != 3 {
		errs = multierr.Append(errs, errors.Errorf("loss: posterior samples must have shape (batch, sample, latent), got %v", cfg.PosteriorSamples.Shape()))
	}
	if cfg.NumSamples < 0 {
		errs = multierr.Append(errs, errors.Errorf("loss: sample count must not be negative, got %d", cfg.NumSamples))
	}
	if errs != nil {
		return nil, errs
	}
	n := cfg.NumSamples
	if n == 0 {
		n = defaultForwardKLNumSamples
	}
	return &ForwardKL{
		joint:      cfg.Joint,
		posterior:  cfg.PosteriorSamples,
		reparam:    cfg.Reparameterized,
		numSamples: n,
	}, nil
}

// Eval estimates the loss and its gradient with respect to the family's
// user parameters. numSamples <= 0 selects the estimator's configured
// count. Returned shapes are (B) and (B, W).
func (f *ForwardKL) Eval(approx dist.Approximator, x *tensor.Dense, numSamples int) (*tensor.Dense, *tensor.Dense, error) {
	n := numSamples
	if n <= 0 {
		n = f.numSamples
	}
	phi, err := approx.Phi(x)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: natural parameters")
	}

	var lossVal, lossDelPhi *tensor.Dense
	switch {
	case f.posterior != nil:
		lossVal, lossDelPhi, err = f.evalPosterior(approx, phi)
	case f.reparam:
		lossVal, lossDelPhi, err = f.evalReparam(approx, phi, x, n)
	default:
		lossVal, lossDelPhi, err = f.evalCV(approx, phi, x, n)
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

// evalPosterior fits the approximation to fixed posterior draws: the loss
// is the negated mean approximation log-density at the draws, its gradient
// the negated mean score. No joint evaluation and no sampling occur.
func (f *ForwardKL) evalPosterior(approx dist.Approximator, phi *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	approxLP, err := approx.LogProb(f.posterior, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: approximation log-density at posterior samples")
	}
	score, err := approx.LogProbGradPhi(f.posterior, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: score at posterior samples")
	}
	return negMeans(approxLP, score)
}

// evalReparam draws reparameterized samples and importance-weights both the
// log-density samples and the composed gradient toward the joint.
func (f *ForwardKL) evalReparam(approx dist.Approximator, phi, x *tensor.Dense, n int) (*tensor.Dense, *tensor.Dense, error) {
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

	jac, err := rep.TransformGradPhi(eps, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: transform jacobian")
	}
	jGrad, err := jointGradPhi(f.joint, x, theta, jac)
	if err != nil {
		return nil, nil, err
	}
	aGrad, err := approxGradPhi(approx, phi, theta, jac)
	if err != nil {
		return nil, nil, err
	}

	// d/dphi [w(theta(phi)) log q(theta(phi))] under the importance
	// weights: lp·d(joint) + (1−lp)·d(approx).
	term1, err := contract.ScaleBySample(approxLP, jGrad)
	if err != nil {
		return nil, nil, err
	}
	oneMinus, err := approxLP.MulScalar(-1.0, true)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: weight complement")
	}
	oneMinus, err = oneMinus.AddScalar(1.0, true)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: weight complement")
	}
	term2, err := contract.ScaleBySample(oneMinus, aGrad)
	if err != nil {
		return nil, nil, err
	}
	gradSamples, err := term1.Add(term2)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: forward-KL gradient samples")
	}

	jointLP, err := f.joint.LogProb(theta, x)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: joint log-density")
	}
	lossSamples, err := variate.Reweight(approxLP, approxLP, jointLP)
	if err != nil {
		return nil, nil, err
	}
	gradSamples, err = variate.Reweight(gradSamples, approxLP, jointLP)
	if err != nil {
		return nil, nil, err
	}

	return negMeans(lossSamples, gradSamples)
}

// evalCV draws samples directly, importance-weights them toward the joint,
// and applies the control-variate reduction on top. Unlike the reverse-KL
// paths, the value operand is de-meaned before the cross-covariance: here
// only the control variate's expectation is known exactly.
func (f *ForwardKL) evalCV(approx dist.Approximator, phi, x *tensor.Dense, n int) (*tensor.Dense, *tensor.Dense, error) {
	theta, err := approx.Sample(n, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: sampling")
	}

	approxLP, err := approx.LogProb(theta, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: approximation log-density")
	}
	score, err := approx.LogProbGradPhi(theta, phi)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: score gradient")
	}
	jointLP, err := f.joint.LogProb(theta, x)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loss: joint log-density")
	}

	lossSamples, err := variate.Reweight(approxLP, approxLP, jointLP)
	if err != nil {
		return nil, nil, err
	}
	gradSamples, err := variate.Reweight(score, approxLP, jointLP)
	if err != nil {
		return nil, nil, err
	}

	lossSamples, err = variate.Reduce(lossSamples, score, true)
	if err != nil {
		return nil, nil, err
	}
	gradSamples, err = variate.Reduce(gradSamples, score, true)
	if err != nil {
		return nil, nil, err
	}

	return negMeans(lossSamples, gradSamples)
}
