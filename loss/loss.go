// Copyright 2025 GoVI Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package loss provides the public API for stochastic variational-inference
// loss and gradient estimation.
//
// Two estimator families are available:
//   - ReverseKL: the negated evidence lower bound, plain or stratified over
//     mixture components, with reparameterized or control-variate gradients
//   - ForwardKL: importance-weighted forward KL, or a direct fit to
//     caller-supplied posterior draws
//
// Example:
//
//	approx, _ := dist.NewGaussian([]float64{0}, []float64{0}, numBatch, seed)
//	target, _ := dist.NewGaussianTarget([]float64{1.0})
//	rkl, _ := loss.NewReverseKL(target, loss.Config{
//	    Objective: loss.ELBO,
//	    Gradient:  loss.Reparameterized,
//	})
//	l, grad, err := rkl.Eval(approx, x, 0) // 0 = strategy default samples
package loss

import (
	"github.com/govi-ml/govi/internal/loss"
)

// Objective selects the variational objective of a reverse-KL estimator.
type Objective = loss.Objective

// Objective values.
const (
	ELBO           Objective = loss.ELBO
	StratifiedELBO Objective = loss.StratifiedELBO
)

// Gradient selects the gradient mechanism of a reverse-KL estimator.
type Gradient = loss.Gradient

// Gradient values.
const (
	Reparameterized Gradient = loss.Reparameterized
	ControlVariate  Gradient = loss.ControlVariate
)

// Config configures a reverse-KL estimator.
type Config = loss.Config

// ReverseKL estimates the negated evidence lower bound and its gradient.
type ReverseKL = loss.ReverseKL

// NewReverseKL creates a reverse-KL estimator; see internal documentation
// for the validation rules.
var NewReverseKL = loss.NewReverseKL

// ForwardKLConfig configures a forward-KL estimator.
type ForwardKLConfig = loss.ForwardKLConfig

// ForwardKL estimates the forward Kullback-Leibler divergence from the
// target to the approximation.
type ForwardKL = loss.ForwardKL

// NewForwardKL creates a forward-KL estimator.
var NewForwardKL = loss.NewForwardKL
