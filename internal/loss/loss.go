// Package loss implements stochastic estimators of variational-inference
// losses and their gradients with respect to the parameters of an
// approximating family.
//
// Two estimator types exist: ReverseKL (the negated evidence lower bound,
// plain or stratified over mixture components, with reparameterized or
// score-function/control-variate gradients) and ForwardKL (importance
// weighted, or fitted directly to caller-supplied posterior draws).
//
// Every estimator returns, per evaluation, a loss of shape (B) and a
// gradient with respect to the family's user-facing parameters of shape
// (B, W). Losses are the negation of the estimated expectation: the natural
// form of these objectives is a maximization, and the returned values feed
// minimizers. In expectation over the sampling randomness the gradient
// equals the true gradient of the loss; the forward-KL estimators are the
// one deliberate exception, where self-normalized importance weighting
// trades unbiasedness for consistency.
//
// Evaluation is synchronous, single-threaded, and allocates its
// intermediates per call; parallelism is data parallelism across the batch
// and sample axes. Collaborators are never mutated.
package loss

import "fmt"

// Objective selects the variational objective of a reverse-KL estimator.
type Objective int

const (
	// ELBO is the plain evidence lower bound.
	ELBO Objective = iota
	// StratifiedELBO stratifies the bound over mixture components,
	// sampling each component separately and combining with the mixture
	// coefficients.
	StratifiedELBO
)

func (o Objective) String() string {
	switch o {
	case ELBO:
		return "elbo"
	case StratifiedELBO:
		return "stratified-elbo"
	default:
		return fmt.Sprintf("Objective(%d)", int(o))
	}
}

// Gradient selects the gradient mechanism of a reverse-KL estimator.
type Gradient int

const (
	// Reparameterized differentiates through the sampling path via the
	// family's base-noise transform.
	Reparameterized Gradient = iota
	// ControlVariate uses the score-function identity with the score
	// gradient itself as a variance-reducing control variate.
	ControlVariate
)

func (g Gradient) String() string {
	switch g {
	case Reparameterized:
		return "reparameterized"
	case ControlVariate:
		return "control-variate"
	default:
		return fmt.Sprintf("Gradient(%d)", int(g))
	}
}

type strategy struct {
	objective Objective
	gradient  Gradient
}

// defaultNumSamples holds the per-strategy Monte-Carlo sample counts used
// when the caller does not override them. The table is exhaustive over the
// valid (objective, gradient) pairs; construction rejects any pair missing
// here.
var defaultNumSamples = map[strategy]int{
	{ELBO, Reparameterized}:           100,
	{ELBO, ControlVariate}:            1000,
	{StratifiedELBO, Reparameterized}: 10,
	{StratifiedELBO, ControlVariate}:  100,
}

// defaultForwardKLNumSamples is the sample count of the forward-KL
// estimators when the caller does not override it.
const defaultForwardKLNumSamples = 1000
