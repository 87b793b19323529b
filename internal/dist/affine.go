package dist

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/govi-ml/govi/internal/contract"
)

var (
	_ Approximator    = (*AffineGaussian)(nil)
	_ Reparameterizer = (*AffineGaussian)(nil)
	_ Transformed     = (*AffineGaussian)(nil)
)

// AffineGaussian is a Gaussian family whose natural parameters are an
// affine function of a user-facing parameter vector:
//
//	phi = offset + jac · params
//
// It exercises the non-identity parameter-lifting path: gradients with
// respect to phi are mapped back through jac to gradients with respect to
// params. The identity jacobian with zero offset makes params and phi
// coincide.
type AffineGaussian struct {
	*Gaussian
	jac    *tensor.Dense // (P, W)
	offset []float64     // (P)
	params []float64     // (W)
}

// NewAffineGaussian creates an affinely parameterized Gaussian family.
// jac must have shape (P, W) with P = 2*dim, where dim is the latent
// dimension of the underlying Gaussian.
func NewAffineGaussian(dim, numBatch int, jac *tensor.Dense, offset, params []float64, seed uint64) (*AffineGaussian, error) {
	js := jac.Shape()
	if len(js) != 2 || js[0] != 2*dim {
		return nil, errors.Errorf("dist: affine gaussian: jacobian shape %v does not match natural parameter dimension %d", js, 2*dim)
	}
	if len(offset) != 2*dim {
		return nil, errors.Errorf("dist: affine gaussian: offset length %d does not match natural parameter dimension %d", len(offset), 2*dim)
	}
	if len(params) != js[1] {
		return nil, errors.Errorf("dist: affine gaussian: parameter length %d does not match jacobian shape %v", len(params), js)
	}
	inner, err := NewGaussian(make([]float64, dim), make([]float64, dim), numBatch, seed)
	if err != nil {
		return nil, err
	}
	return &AffineGaussian{
		Gaussian: inner,
		jac:      jac,
		offset:   offset,
		params:   params,
	}, nil
}

// Params returns the live user parameter vector. Callers that optimize the
// family mutate it in place between evaluations.
func (a *AffineGaussian) Params() []float64 { return a.params }

// Phi maps the current user parameters to natural parameters,
// shape (B, P), identical across the batch.
func (a *AffineGaussian) Phi(x *tensor.Dense) (*tensor.Dense, error) {
	p, w := a.jac.Shape()[0], a.jac.Shape()[1]
	numBatch := a.Gaussian.phi.Shape()[0]
	jd := contract.Data(a.jac)

	row := make([]float64, p)
	for pi := 0; pi < p; pi++ {
		v := a.offset[pi]
		for wi := 0; wi < w; wi++ {
			v += jd[pi*w+wi] * a.params[wi]
		}
		row[pi] = v
	}

	phi := contract.New(numBatch, p)
	pd := contract.Data(phi)
	for b := 0; b < numBatch; b++ {
		copy(pd[b*p:], row)
	}
	return phi, nil
}

// PhiGradParams returns d phi / d params, shape (P, W). Constant for an
// affine map.
func (a *AffineGaussian) PhiGradParams(x *tensor.Dense) (*tensor.Dense, error) {
	return a.jac, nil
}
