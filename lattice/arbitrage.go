package lattice

import (
	"math"

	"github.com/wyfcoding/optionlattice/xerrors"
)

// CheckNoArbitrage 校验 CRR 树的无套利条件。
//
// 0 <= p~ <= 1 等价于 down <= e^{r dt} <= up，对 CRR 即 -sigma <= r*sqrt(T/N) <= sigma。
// 只检查上界 r*sqrt(T/N) <= sigma。GBM 模型不做检查。
func CheckNoArbitrage(p Params, steps int, model Model) error {
	if model != ModelCRR {
		return nil
	}
	if steps < 1 {
		return xerrors.Newf(xerrors.ErrInvalidResolution, "steps=%d", steps)
	}
	lhs := p.R * math.Sqrt(p.T/float64(steps))
	if lhs > p.Sigma {
		return xerrors.Newf(xerrors.ErrArbitrageViolation, "r*sqrt(T/N)=%g > sigma=%g at steps=%d", lhs, p.Sigma, steps).
			WithContext("steps", steps)
	}
	return nil
}

// CheckNoArbitrage 对已建成的树做同样的校验。
func (t *Tree) CheckNoArbitrage() error {
	return CheckNoArbitrage(t.Params, t.Steps, t.Model)
}
