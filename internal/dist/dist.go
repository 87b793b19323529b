// Package dist defines the distribution capability sets consumed by the
// loss estimators, together with concrete Gaussian families.
//
// Every batched quantity is a dense float64 tensor. Axis 0 is always the
// batch axis, axis 1 (when present) the Monte-Carlo sample axis. A family
// over a D-dimensional latent with natural parameter dimension P uses:
//
//	theta:    (B, S, D)
//	phi:      (B, P)
//	jacobian: (B, S, D, P)
//
// Optional capabilities (reparameterized sampling, mixture structure, a
// differentiable parameter map) are expressed as interface upgrades and
// resolved once per evaluation, never probed per sample.
package dist

import "gorgonia.org/tensor"

// Approximator is the minimal capability set of an approximating family:
// sampling, log-density, and its gradients with respect to the latent and
// the natural parameters.
type Approximator interface {
	// Phi returns the natural parameters conditioned on the batch of
	// observations, shape (B, P).
	Phi(x *tensor.Dense) (*tensor.Dense, error)

	// Sample draws from the family, shape (B, S, D).
	Sample(numSamples int, phi *tensor.Dense) (*tensor.Dense, error)

	// LogProb returns the log-density of theta, shape (B, S).
	LogProb(theta, phi *tensor.Dense) (*tensor.Dense, error)

	// LogProbGradTheta returns d log q / d theta, shape (B, S, D).
	LogProbGradTheta(theta, phi *tensor.Dense) (*tensor.Dense, error)

	// LogProbGradPhi returns d log q / d phi at fixed theta,
	// shape (B, S, P). Its expectation under the family is zero, which
	// is what makes it usable as a control variate.
	LogProbGradPhi(theta, phi *tensor.Dense) (*tensor.Dense, error)
}

// Reparameterizer is an Approximator whose samples can be expressed as a
// differentiable transform of parameter-independent base noise.
type Reparameterizer interface {
	Approximator

	// SampleBase draws base noise epsilon, shape (B, S, D).
	SampleBase(numBatch, numSamples int) (*tensor.Dense, error)

	// Transform maps base noise to latent samples, shape (B, S, D).
	Transform(epsilon, phi *tensor.Dense) (*tensor.Dense, error)

	// TransformGradPhi is the Jacobian of the transform with respect to
	// phi, shape (B, S, D, P).
	TransformGradPhi(epsilon, phi *tensor.Dense) (*tensor.Dense, error)
}

// Mixture is an Approximator with explicit component structure, used by the
// stratified estimators. Component-axis methods evaluate the full mixture
// density at each component's own samples; the leading axis is the
// component axis M.
type Mixture interface {
	Approximator

	// NumComponents returns the number of mixture components.
	NumComponents() int

	// Coefficients returns the mixture weights, shape (M). They sum to
	// one and are treated as constants by the estimators.
	Coefficients(phi *tensor.Dense) (*tensor.Dense, error)

	// ComponentSample draws from each component, shape (M, B, S, D).
	ComponentSample(numSamples int, phi *tensor.Dense) (*tensor.Dense, error)

	// ComponentSampleBase draws per-component base noise,
	// shape (M, B, S, D).
	ComponentSampleBase(numBatch, numSamples int) (*tensor.Dense, error)

	// ComponentTransform maps per-component base noise through each
	// component's transform, shape (M, B, S, D).
	ComponentTransform(epsilon, phi *tensor.Dense) (*tensor.Dense, error)

	// ComponentTransformGradPhi is the per-component Jacobian,
	// shape (M, B, S, D, P).
	ComponentTransformGradPhi(epsilon, phi *tensor.Dense) (*tensor.Dense, error)

	// ComponentLogProb evaluates the mixture log-density at each
	// component's samples, shape (M, B, S).
	ComponentLogProb(theta, phi *tensor.Dense) (*tensor.Dense, error)

	// ComponentLogProbGradTheta evaluates d log q / d theta at each
	// component's samples, shape (M, B, S, D).
	ComponentLogProbGradTheta(theta, phi *tensor.Dense) (*tensor.Dense, error)

	// ComponentLogProbGradPhi evaluates d log q / d phi at each
	// component's samples, shape (M, B, S, P).
	ComponentLogProbGradPhi(theta, phi *tensor.Dense) (*tensor.Dense, error)
}

// Transformed is an Approximator whose natural parameters are a
// differentiable function of a user-facing parameter set. Families without
// this capability optimize phi directly.
type Transformed interface {
	Approximator

	// PhiGradParams returns d phi / d params, shape (P, W), shared
	// across the batch.
	PhiGradParams(x *tensor.Dense) (*tensor.Dense, error)
}

// Target is the joint (unnormalized posterior) distribution being
// approximated.
type Target interface {
	// LogProb returns the joint log-density, shape (B, S). It need not
	// be normalized.
	LogProb(theta, x *tensor.Dense) (*tensor.Dense, error)

	// LogProbGradTheta returns d log p / d theta, shape (B, S, D).
	LogProbGradTheta(theta, x *tensor.Dense) (*tensor.Dense, error)
}
