package loss

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/govi-ml/govi/internal/contract"
	"github.com/govi-ml/govi/internal/dist"
)

// liftToParams maps a phi-space gradient back to the user-facing parameter
// space. Families without a phi-to-params map optimize phi directly, and
// the gradient is returned untouched, as the same tensor rather than a copy.
//
// Otherwise the family's Jacobian d phi / d params (shape (P, W), shared
// across the batch) is contracted against the gradient over all phi axes:
//
//	lossDelPhi: (B, P)  ×  jac: (P, W)  →  (B, W)
func liftToParams(lossDelPhi, x *tensor.Dense, approx dist.Approximator) (*tensor.Dense, error) {
	tr, ok := approx.(dist.Transformed)
	if !ok {
		return lossDelPhi, nil
	}

	jac, err := tr.PhiGradParams(x)
	if err != nil {
		return nil, errors.Wrap(err, "loss: phi-to-params jacobian")
	}
	gs, js := lossDelPhi.Shape(), jac.Shape()
	if len(gs) < 2 || len(js) != 2 {
		return nil, errors.Errorf("loss: lift: gradient shape %v and jacobian shape %v are not liftable", gs, js)
	}
	b := gs[0]
	p := gs.TotalSize() / b
	if p != js[0] {
		return nil, errors.Errorf("loss: lift: gradient phi size %d does not match jacobian shape %v", p, js)
	}
	w := js[1]

	out := contract.New(b, w)
	gd, jd, od := contract.Data(lossDelPhi), contract.Data(jac), contract.Data(out)
	for bi := 0; bi < b; bi++ {
		for pi := 0; pi < p; pi++ {
			gv := gd[bi*p+pi]
			if gv == 0 {
				continue
			}
			for wi := 0; wi < w; wi++ {
				od[bi*w+wi] += gv * jd[pi*w+wi]
			}
		}
	}
	return out, nil
}
