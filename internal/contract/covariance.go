package contract

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Covariance computes the per-batch sample covariance between two flattened
// per-sample quantities, averaging outer products over the sample axis.
//
//	a:   (B, S, I)
//	b:   (B, S, J)
//	out: (B, I, J)
//
// When deMeanB is set, b has its per-batch sample mean removed before the
// outer products are formed; a is never de-meaned. The asymmetry is
// deliberate: at the call sites a is a control variate whose expectation is
// exactly zero, while b's expectation may be unknown.
func Covariance(a, b *tensor.Dense, deMeanB bool) (*tensor.Dense, error) {
	as, bs := a.Shape(), b.Shape()
	if len(as) != 3 || len(bs) != 3 || as[0] != bs[0] || as[1] != bs[1] {
		return nil, errors.Errorf("contract: covariance: incompatible shapes %v and %v", as, bs)
	}
	nb, ns, di, dj := as[0], as[1], as[2], bs[2]

	bd := Data(b)
	if deMeanB {
		centered := make([]float64, len(bd))
		copy(centered, bd)
		for bi := 0; bi < nb; bi++ {
			for j := 0; j < dj; j++ {
				mean := 0.0
				for si := 0; si < ns; si++ {
					mean += bd[(bi*ns+si)*dj+j]
				}
				mean /= float64(ns)
				for si := 0; si < ns; si++ {
					centered[(bi*ns+si)*dj+j] -= mean
				}
			}
		}
		bd = centered
	}

	out := New(nb, di, dj)
	ad, od := Data(a), Data(out)
	inv := 1.0 / float64(ns)
	for bi := 0; bi < nb; bi++ {
		for si := 0; si < ns; si++ {
			aBase := (bi*ns + si) * di
			bBase := (bi*ns + si) * dj
			for i := 0; i < di; i++ {
				av := ad[aBase+i] * inv
				oBase := (bi*di + i) * dj
				for j := 0; j < dj; j++ {
					od[oBase+j] += av * bd[bBase+j]
				}
			}
		}
	}
	return out, nil
}

// SolveBatch solves the linear system A·X = C independently for every batch
// element, using an LU factorization rather than an explicit inverse.
//
//	a:   (B, I, I)
//	c:   (B, I, J)
//	out: (B, I, J)
//
// A singular or ill-conditioned system is a fatal numerical failure for the
// surrounding estimate; the error is propagated unrecovered.
func SolveBatch(a, c *tensor.Dense) (*tensor.Dense, error) {
	as, cs := a.Shape(), c.Shape()
	if len(as) != 3 || len(cs) != 3 || as[0] != cs[0] || as[1] != as[2] || as[1] != cs[1] {
		return nil, errors.Errorf("contract: batched solve: incompatible shapes %v and %v", as, cs)
	}
	nb, di, dj := as[0], as[1], cs[2]

	out := New(nb, di, dj)
	ad, cd, od := Data(a), Data(c), Data(out)
	for bi := 0; bi < nb; bi++ {
		lhs := mat.NewDense(di, di, ad[bi*di*di:(bi+1)*di*di])
		rhs := mat.NewDense(di, dj, cd[bi*di*dj:(bi+1)*di*dj])
		var x mat.Dense
		if err := x.Solve(lhs, rhs); err != nil {
			return nil, errors.Wrapf(err, "contract: batched solve: singular system in batch element %d", bi)
		}
		copy(od[bi*di*dj:(bi+1)*di*dj], x.RawMatrix().Data)
	}
	return out, nil
}
