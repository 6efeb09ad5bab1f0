package montecarlo

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/wyfcoding/optionlattice/xerrors"
	"gonum.org/v1/gonum/mat"
)

// MaxLSMCells LSM 同时保存的路径格点上限 paths*(steps+1)，约 512 MiB。
const MaxLSMCells = 1 << 26

// American 使用 Longstaff-Schwartz 最小二乘法估计美式合约价值。
//
// 路径按对数正态精确步进生成；每个时间步仅对价内路径回归，
// 基函数为 (S/S0)^k, k=0..degree。结果不低于立即行权价值。
func (s *Simulator) American(ctx context.Context, pay Payoff, paths int) (Estimate, error) {
	steps := s.options.Steps
	if paths < 1 || paths > MaxLSMCells/(steps+1) {
		return Estimate{}, xerrors.Newf(xerrors.ErrInvalidResolution,
			"paths=%d steps=%d, allowed paths*(steps+1) <= %d", paths, steps, MaxLSMCells).
			WithContext("paths", paths).WithContext("steps", steps)
	}
	p := s.params
	dt := p.T / float64(steps)
	df := math.Exp(-p.R * dt)
	drift := (p.R - p.D - 0.5*p.Sigma*p.Sigma) * dt
	vol := p.Sigma * math.Sqrt(dt)
	width := steps + 1

	// spots[i*width+t] 为第 i 条路径在第 t 步的价格
	spots := make([]float64, paths*width)
	err := s.forEachBatch(ctx, paths, func(rng *rand.Rand, lo, hi int) {
		for i := lo; i < hi; i++ {
			row := spots[i*width : (i+1)*width]
			row[0] = p.S0
			for t := 1; t <= steps; t++ {
				row[t] = row[t-1] * math.Exp(drift+vol*rng.NormFloat64())
			}
		}
	})
	if err != nil {
		return Estimate{}, err
	}

	cashflows := make([]float64, paths)
	for i := range cashflows {
		cashflows[i] = pay.Evaluate(spots[i*width+steps])
	}

	degree := s.options.Degree
	itm := make([]int, 0, paths)
	for t := steps - 1; t >= 1; t-- {
		if err := ctx.Err(); err != nil {
			return Estimate{}, err
		}
		itm = itm[:0]
		for i := range cashflows {
			cashflows[i] *= df
			if pay.Evaluate(spots[i*width+t]) > 0 {
				itm = append(itm, i)
			}
		}
		if len(itm) <= degree+1 {
			continue
		}

		coeffs, err := regress(spots, width, t, p.S0, itm, cashflows, degree)
		if err != nil {
			return Estimate{}, err
		}
		for _, i := range itm {
			spot := spots[i*width+t]
			ex := pay.Evaluate(spot)
			if ex > continuation(coeffs, spot/p.S0) {
				cashflows[i] = ex
			}
		}
	}

	for i := range cashflows {
		cashflows[i] *= df
	}
	est := summarize(cashflows)
	est.Price = max(est.Price, pay.Evaluate(p.S0))
	return est, nil
}

// regress 以最小二乘拟合延续价值。
func regress(spots []float64, width, t int, s0 float64, itm []int, cashflows []float64, degree int) ([]float64, error) {
	cols := degree + 1
	design := mat.NewDense(len(itm), cols, nil)
	target := mat.NewVecDense(len(itm), nil)
	for r, i := range itm {
		x := spots[i*width+t] / s0
		v := 1.0
		for c := range cols {
			design.Set(r, c, v)
			v *= x
		}
		target.SetVec(r, cashflows[i])
	}

	var beta mat.VecDense
	if err := beta.SolveVec(design, target); err != nil {
		return nil, xerrors.Wrapf(xerrors.ErrRegression, err, "step=%d itm=%d", t, len(itm))
	}
	return beta.RawVector().Data, nil
}

func continuation(coeffs []float64, x float64) float64 {
	// Horner
	v := 0.0
	for k := len(coeffs) - 1; k >= 0; k-- {
		v = v*x + coeffs[k]
	}
	return v
}
