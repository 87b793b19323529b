// Copyright 2025 GoVI Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package dist provides the public API for the distribution collaborators
// consumed by the loss estimators: the capability interfaces an
// approximating family can implement, and concrete Gaussian families.
package dist

import (
	"github.com/govi-ml/govi/internal/dist"
)

// Approximator is the minimal capability set of an approximating family.
type Approximator = dist.Approximator

// Reparameterizer is an Approximator with a differentiable sampling path.
type Reparameterizer = dist.Reparameterizer

// Mixture is an Approximator with explicit component structure.
type Mixture = dist.Mixture

// Transformed is an Approximator whose natural parameters are a
// differentiable function of a user-facing parameter set.
type Transformed = dist.Transformed

// Target is the joint distribution being approximated.
type Target = dist.Target

// Gaussian is a mean-field Gaussian approximating family.
type Gaussian = dist.Gaussian

// NewGaussian creates a Gaussian family.
var NewGaussian = dist.NewGaussian

// GaussianMixture is a mixture of mean-field Gaussians with fixed
// coefficients.
type GaussianMixture = dist.GaussianMixture

// NewGaussianMixture creates a mixture family.
var NewGaussianMixture = dist.NewGaussianMixture

// AffineGaussian is a Gaussian family whose natural parameters are an
// affine function of a user parameter vector.
type AffineGaussian = dist.AffineGaussian

// NewAffineGaussian creates an affinely parameterized Gaussian family.
var NewAffineGaussian = dist.NewAffineGaussian

// GaussianTarget is a Gaussian joint density centered on the observations.
type GaussianTarget = dist.GaussianTarget

// NewGaussianTarget creates a Gaussian target.
var NewGaussianTarget = dist.NewGaussianTarget
