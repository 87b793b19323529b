// Package contract implements the named batched contractions used by the
// loss estimators.
//
// Every quantity is a dense float64 tensor whose leading axis is the batch
// axis and whose second axis (when present) is the Monte-Carlo sample axis.
// Each function here is a fixed contraction over explicitly named axes; no
// implicit broadcasting happens beyond the layouts documented per function.
package contract

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// New allocates a zeroed float64 tensor with the given shape.
func New(shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float64))
}

// FromSlice builds a float64 tensor from backing data.
// The data is used directly, not copied.
func FromSlice(data []float64, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// Data returns the flat row-major float64 view of t.
func Data(t *tensor.Dense) []float64 {
	return t.Data().([]float64)
}

// trailing returns the product of the dimensions of s after the first n.
func trailing(s tensor.Shape, n int) int {
	size := 1
	for _, d := range s[n:] {
		size *= d
	}
	return size
}

// ScaleBySample multiplies every trailing slice of v by the matching
// per-sample scalar in w.
//
//	w: (B, S)
//	v: (B, S, K...)
//	out: (B, S, K...)
func ScaleBySample(w, v *tensor.Dense) (*tensor.Dense, error) {
	ws, vs := w.Shape(), v.Shape()
	if len(ws) != 2 || len(vs) < 2 || ws[0] != vs[0] || ws[1] != vs[1] {
		return nil, errors.Errorf("contract: scale by sample: weight shape %v does not match value shape %v", ws, vs)
	}
	k := trailing(vs, 2)
	out := New(vs...)
	wd, vd, od := Data(w), Data(v), Data(out)
	for i := 0; i < ws[0]*ws[1]; i++ {
		scale := wd[i]
		for j := 0; j < k; j++ {
			od[i*k+j] = scale * vd[i*k+j]
		}
	}
	return out, nil
}

// ContractLatent contracts a per-sample gradient over the latent axis
// against a Jacobian of the reparameterization map.
//
//	g:   (B, S, D)
//	jac: (B, S, D, P)
//	out: (B, S, P)
func ContractLatent(g, jac *tensor.Dense) (*tensor.Dense, error) {
	gs, js := g.Shape(), jac.Shape()
	if len(gs) != 3 || len(js) < 3 || gs[0] != js[0] || gs[1] != js[1] || gs[2] != js[2] {
		return nil, errors.Errorf("contract: latent contraction: gradient shape %v does not match jacobian shape %v", gs, js)
	}
	b, s, d := gs[0], gs[1], gs[2]
	p := trailing(js, 3)
	out := New(b, s, p)
	gd, jd, od := Data(g), Data(jac), Data(out)
	for i := 0; i < b*s; i++ {
		for di := 0; di < d; di++ {
			gv := gd[i*d+di]
			if gv == 0 {
				continue
			}
			base := (i*d + di) * p
			for pi := 0; pi < p; pi++ {
				od[i*p+pi] += gv * jd[base+pi]
			}
		}
	}
	return out, nil
}

// ContractLatentComponents is ContractLatent with a leading mixture
// component axis carried through unchanged.
//
//	g:   (M, B, S, D)
//	jac: (M, B, S, D, P)
//	out: (M, B, S, P)
func ContractLatentComponents(g, jac *tensor.Dense) (*tensor.Dense, error) {
	gs, js := g.Shape(), jac.Shape()
	if len(gs) != 4 || len(js) < 4 || gs[0] != js[0] || gs[1] != js[1] || gs[2] != js[2] || gs[3] != js[3] {
		return nil, errors.Errorf("contract: component latent contraction: gradient shape %v does not match jacobian shape %v", gs, js)
	}
	m, b, s, d := gs[0], gs[1], gs[2], gs[3]
	p := trailing(js, 4)
	out := New(m, b, s, p)
	gd, jd, od := Data(g), Data(jac), Data(out)
	for i := 0; i < m*b*s; i++ {
		for di := 0; di < d; di++ {
			gv := gd[i*d+di]
			if gv == 0 {
				continue
			}
			base := (i*d + di) * p
			for pi := 0; pi < p; pi++ {
				od[i*p+pi] += gv * jd[base+pi]
			}
		}
	}
	return out, nil
}

// CombineComponents forms the coefficient-weighted sum of per-component
// quantities over the leading component axis.
//
//	c:   (M)
//	v:   (M, K...)
//	out: (K...)
func CombineComponents(c, v *tensor.Dense) (*tensor.Dense, error) {
	cs, vs := c.Shape(), v.Shape()
	if len(cs) != 1 || len(vs) < 1 || cs[0] != vs[0] {
		return nil, errors.Errorf("contract: component combination: coefficient shape %v does not match value shape %v", cs, vs)
	}
	m := cs[0]
	k := trailing(vs, 1)
	out := New(vs[1:]...)
	cd, vd, od := Data(c), Data(v), Data(out)
	for mi := 0; mi < m; mi++ {
		coeff := cd[mi]
		for j := 0; j < k; j++ {
			od[j] += coeff * vd[mi*k+j]
		}
	}
	return out, nil
}

// MeanSamples averages over the sample axis (axis 1).
//
//	v:   (B, S, K...)
//	out: (B, K...)
func MeanSamples(v *tensor.Dense) (*tensor.Dense, error) {
	vs := v.Shape()
	if len(vs) < 2 {
		return nil, errors.Errorf("contract: sample mean: need at least (batch, sample) axes, got shape %v", vs)
	}
	b, s := vs[0], vs[1]
	k := trailing(vs, 2)
	outShape := append(tensor.Shape{b}, vs[2:]...)
	out := New(outShape...)
	vd, od := Data(v), Data(out)
	inv := 1.0 / float64(s)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			base := (bi*s + si) * k
			for j := 0; j < k; j++ {
				od[bi*k+j] += vd[base+j] * inv
			}
		}
	}
	return out, nil
}

// NegMeanSamples averages over the sample axis and negates, converting a
// maximization objective into a minimization loss.
func NegMeanSamples(v *tensor.Dense) (*tensor.Dense, error) {
	mean, err := MeanSamples(v)
	if err != nil {
		return nil, err
	}
	return mean.MulScalar(-1.0, true)
}
