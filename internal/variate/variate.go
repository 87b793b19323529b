// Package variate implements the two variance-reduction devices shared by
// the loss estimators: optimal linear control-variate correction and
// self-normalized importance weighting.
package variate

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/govi-ml/govi/internal/contract"
)

// Reduce applies an optimal linear control-variate correction to a batch of
// per-sample estimates.
//
//	value: (B, S, K...)
//	cv:    (B, S, C...)
//
// Both operands are flattened to (B, S, dim) preserving sample order. The
// correction coefficient a solves Cov(cv, cv)·a = Cov(cv, value) per batch
// element, and the returned tensor is value − a·cv restored to value's
// original shape. Since the control variate has known zero expectation, the
// correction never changes the expectation of value, only its variance.
//
// deMeanValue removes the per-batch sample mean from the value operand
// before the cross-covariance is formed. The control-variate operand is
// never de-meaned: its expectation is exactly zero by construction, whereas
// the value's is unknown on the paths that set this flag.
//
// A nil or dimensionless control variate leaves value untouched; the
// identical tensor is returned. A singular covariance matrix is a fatal
// numerical failure.
func Reduce(value, cv *tensor.Dense, deMeanValue bool) (*tensor.Dense, error) {
	if cv == nil {
		return value, nil
	}
	vs, cs := value.Shape(), cv.Shape()
	if len(vs) < 2 || len(cs) < 2 || vs[0] != cs[0] || vs[1] != cs[1] {
		return nil, errors.Errorf("variate: reduce: value shape %v does not match control-variate shape %v", vs, cs)
	}
	b, s := vs[0], vs[1]
	dimVal := vs.TotalSize() / (b * s)
	dimCV := cs.TotalSize() / (b * s)
	if dimCV == 0 {
		return value, nil
	}

	valFlat, err := flatten(value, b, s, dimVal)
	if err != nil {
		return nil, err
	}
	cvFlat, err := flatten(cv, b, s, dimCV)
	if err != nil {
		return nil, err
	}

	cvVar, err := contract.Covariance(cvFlat, cvFlat, false)
	if err != nil {
		return nil, err
	}
	cov, err := contract.Covariance(cvFlat, valFlat, deMeanValue)
	if err != nil {
		return nil, err
	}
	coeff, err := contract.SolveBatch(cvVar, cov) // (B, dimCV, dimVal)
	if err != nil {
		return nil, errors.Wrap(err, "variate: reduce")
	}

	out := contract.New(vs...)
	vd := contract.Data(value)
	cd := contract.Data(cvFlat)
	ad := contract.Data(coeff)
	od := contract.Data(out)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			vBase := (bi*s + si) * dimVal
			cBase := (bi*s + si) * dimCV
			for j := 0; j < dimVal; j++ {
				corr := 0.0
				for i := 0; i < dimCV; i++ {
					corr += ad[(bi*dimCV+i)*dimVal+j] * cd[cBase+i]
				}
				od[vBase+j] = vd[vBase+j] - corr
			}
		}
	}
	return out, nil
}

// Reweight scales per-sample quantities by self-normalized importance
// weights so that a subsequent mean over the sample axis yields the
// importance-sampling estimate.
//
//	samples: (B, S, K...)
//	logA:    (B, S)  log-density the samples were drawn from
//	logB:    (B, S)  log-density of the target
//
// The log-weights logB − logA have the per-batch maximum subtracted before
// exponentiation and are normalized by the per-batch sum, so unnormalized
// densities are acceptable on either side. Self-normalization makes the
// resulting estimator biased but consistent; the bias is intentional and
// vanishes as S grows. With identical logA and logB the weights are uniform
// and the samples are returned unchanged.
func Reweight(samples, logA, logB *tensor.Dense) (*tensor.Dense, error) {
	ss, as, bs := samples.Shape(), logA.Shape(), logB.Shape()
	if len(as) != 2 || !as.Eq(bs) {
		return nil, errors.Errorf("variate: reweight: log-weight shapes %v and %v must match and be (batch, sample)", as, bs)
	}
	if len(ss) < 2 || ss[0] != as[0] || ss[1] != as[1] {
		return nil, errors.Errorf("variate: reweight: sample shape %v does not match log-weight shape %v", ss, as)
	}
	b, s := as[0], as[1]
	k := ss.TotalSize() / (b * s)

	ad, bd := contract.Data(logA), contract.Data(logB)
	weights := make([]float64, b*s)
	for bi := 0; bi < b; bi++ {
		maxLogW := math.Inf(-1)
		for si := 0; si < s; si++ {
			lw := bd[bi*s+si] - ad[bi*s+si]
			weights[bi*s+si] = lw
			if lw > maxLogW {
				maxLogW = lw
			}
		}
		sum := 0.0
		for si := 0; si < s; si++ {
			w := math.Exp(weights[bi*s+si] - maxLogW)
			weights[bi*s+si] = w
			sum += w
		}
		// Scale by S so the caller's sample mean becomes the
		// self-normalized estimate.
		scale := float64(s) / sum
		for si := 0; si < s; si++ {
			weights[bi*s+si] *= scale
		}
	}

	out := contract.New(ss...)
	sd, od := contract.Data(samples), contract.Data(out)
	for i := 0; i < b*s; i++ {
		w := weights[i]
		for j := 0; j < k; j++ {
			od[i*k+j] = w * sd[i*k+j]
		}
	}
	return out, nil
}

func flatten(t *tensor.Dense, dims ...int) (*tensor.Dense, error) {
	flat := t.Clone().(*tensor.Dense)
	if err := flat.Reshape(dims...); err != nil {
		return nil, errors.Wrapf(err, "variate: cannot flatten shape %v to %v", t.Shape(), dims)
	}
	return flat, nil
}
