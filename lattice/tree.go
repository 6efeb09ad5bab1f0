package lattice

import (
	"math"

	"github.com/wyfcoding/optionlattice/xerrors"
)

// Tree 单一分辨率下的价格树。建成后只读，归纳结束即可丢弃。
type Tree struct {
	Prices *Grid
	Params Params
	Model  Model
	Steps  int
	Dt     float64
	Up     float64
	Down   float64
}

// Multipliers 按模型计算上下乘子。
func Multipliers(p Params, dt float64, model Model) (up, down float64, err error) {
	switch model {
	case ModelCRR:
		up = math.Exp(p.Sigma * math.Sqrt(dt))
		down = 1 / up
	case ModelGBM:
		det := (p.R - p.D - 0.5*p.Sigma*p.Sigma) * dt
		stoc := p.Sigma * math.Sqrt(dt)
		up = math.Exp(det + stoc)
		down = math.Exp(det - stoc)
	default:
		return 0, 0, xerrors.Newf(xerrors.ErrUnsupportedModel, "model %q", model)
	}
	return up, down, nil
}

// Build 构建 N 步价格树。
// 节点 (i, j) 为 j 步中下跌 i 次后的价格：S0 * up^(j-i) * down^i。
// 每个节点按闭式独立计算，不做逐步累乘。
func Build(p Params, steps int, model Model) (*Tree, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if steps < 1 {
		return nil, xerrors.Newf(xerrors.ErrInvalidResolution, "steps=%d", steps)
	}

	dt := p.T / float64(steps)
	up, down, err := Multipliers(p, dt, model)
	if err != nil {
		return nil, err
	}

	prices := newGrid(steps)
	for j := 0; j <= steps; j++ {
		col := prices.column(j)
		for i := range col {
			col[i] = p.S0 * math.Pow(up, float64(j-i)) * math.Pow(down, float64(i))
		}
	}

	return &Tree{
		Prices: prices,
		Params: p,
		Model:  model,
		Steps:  steps,
		Dt:     dt,
		Up:     up,
		Down:   down,
	}, nil
}

// RiskNeutralProbability 返回 p~ = (e^{(r-d)dt} - down) / (up - down)。
// up==down 时返回 ErrDegenerateLattice。
func (t *Tree) RiskNeutralProbability() (float64, error) {
	spread := t.Up - t.Down
	if spread == 0 {
		return 0, xerrors.Newf(xerrors.ErrDegenerateLattice, "up=down=%g at steps=%d", t.Up, t.Steps)
	}
	return (math.Exp((t.Params.R-t.Params.D)*t.Dt) - t.Down) / spread, nil
}

// Discount 单步折现因子 e^{-r dt}。
func (t *Tree) Discount() float64 {
	return math.Exp(-t.Params.R * t.Dt)
}
