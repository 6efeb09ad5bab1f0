package lattice

import (
	"github.com/wyfcoding/optionlattice/xerrors"
)

// Node 格点坐标：J 为步数，I 为下跌次数。
type Node struct {
	I int
	J int
}

// BoundaryPoint 某一步上提前行权区域的价格范围。
type BoundaryPoint struct {
	Step int
	Low  float64
	High float64
}

// Valuation 一次逆向归纳的结果。Cashflows 归本次归纳独占。
type Valuation struct {
	Cashflows *Grid
	Exercise  Exercise
	exercised []bool // 与 Cashflows 同布局；仅美式行权时分配
	Value     float64
}

// seedTerminal 以到期收益填充最后一列。
func seedTerminal(t *Tree, cashflows *Grid, pay Payoff) {
	terminal := t.Prices.Column(t.Steps)
	out := cashflows.column(t.Steps)
	for i, s := range terminal {
		out[i] = pay.Evaluate(s)
	}
}

// Induct 在价格树上做风险中性逆向归纳，返回 0 时刻价值与全部节点价值。
//
// 欧式：cf[i,j] = disc * (p~*cf[i,j+1] + (1-p~)*cf[i+1,j+1])
// 美式：cf[i,j] = max(payoff(price[i,j]), 上述延续价值)
//
// 列必须从 N-1 到 0 依次计算；同一列内各节点互不依赖。
// 该函数不检查无套利条件，调用前应先执行 CheckNoArbitrage。
func Induct(t *Tree, pay Payoff, exercise Exercise) (*Valuation, error) {
	if exercise != European && exercise != American {
		return nil, xerrors.Newf(xerrors.ErrUnsupportedExercise, "exercise style %q", exercise)
	}
	pTilde, err := t.RiskNeutralProbability()
	if err != nil {
		return nil, err
	}
	disc := t.Discount()
	pUp := disc * pTilde
	pDown := disc * (1 - pTilde)

	cashflows := newGrid(t.Steps)
	seedTerminal(t, cashflows, pay)

	v := &Valuation{Cashflows: cashflows, Exercise: exercise}
	if exercise == American {
		v.exercised = make([]bool, len(cashflows.cells))
	}

	for j := t.Steps - 1; j >= 0; j-- {
		next := cashflows.Column(j + 1)
		col := cashflows.column(j)
		switch exercise {
		case European:
			for i := range col {
				col[i] = pUp*next[i] + pDown*next[i+1]
			}
		case American:
			spots := t.Prices.Column(j)
			off := cashflows.offset(j)
			for i := range col {
				cont := pUp*next[i] + pDown*next[i+1]
				ex := pay.Evaluate(spots[i])
				if ex > cont {
					col[i] = ex
					v.exercised[off+i] = true
				} else {
					col[i] = cont
				}
			}
		}
	}

	v.Value = cashflows.At(0, 0)
	return v, nil
}

// Price 建树、校验并归纳，返回 0 时刻价值。
func Price(p Params, steps int, model Model, pay Payoff, exercise Exercise) (*Valuation, error) {
	t, err := Build(p, steps, model)
	if err != nil {
		return nil, err
	}
	if err := t.CheckNoArbitrage(); err != nil {
		return nil, err
	}
	return Induct(t, pay, exercise)
}

// ExerciseNodes 返回提前行权严格优于继续持有的节点，按 (j, i) 升序。
// 欧式结果恒为空。
func (v *Valuation) ExerciseNodes() []Node {
	if v.exercised == nil {
		return nil
	}
	var nodes []Node
	for j := 0; j < v.Cashflows.Steps(); j++ {
		off := v.Cashflows.offset(j)
		for i := 0; i <= j; i++ {
			if v.exercised[off+i] {
				nodes = append(nodes, Node{I: i, J: j})
			}
		}
	}
	return nodes
}

// ExerciseBoundary 汇总每一步提前行权区域的最低与最高标的价格。
// t 必须是产生该结果的价格树。
func (v *Valuation) ExerciseBoundary(t *Tree) []BoundaryPoint {
	var points []BoundaryPoint
	var cur *BoundaryPoint
	for _, n := range v.ExerciseNodes() {
		s := t.Prices.At(n.I, n.J)
		if cur == nil || cur.Step != n.J {
			points = append(points, BoundaryPoint{Step: n.J, Low: s, High: s})
			cur = &points[len(points)-1]
			continue
		}
		cur.Low = min(cur.Low, s)
		cur.High = max(cur.High, s)
	}
	return points
}
