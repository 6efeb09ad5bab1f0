// Package lattice 实现二叉树期权定价：建树、无套利校验、逆向归纳与收敛序列。
package lattice

import (
	"strings"

	"github.com/wyfcoding/optionlattice/xerrors"
)

// Params 标的资产模型参数，创建后不可变。
type Params struct {
	S0    float64 // 初始价格
	R     float64 // 无风险利率
	D     float64 // 连续股息率
	Sigma float64 // 波动率
	T     float64 // 到期时间（年）
}

// Validate 校验 S0、Sigma、T 为正。
func (p Params) Validate() error {
	if p.S0 <= 0 || p.Sigma <= 0 || p.T <= 0 {
		return xerrors.Newf(xerrors.ErrInvalidParams, "S0=%g sigma=%g T=%g", p.S0, p.Sigma, p.T)
	}
	return nil
}

// Model 上下乘子的参数化方式。
type Model string

const (
	// ModelCRR Cox-Ross-Rubinstein，up*down=1。
	ModelCRR Model = "crr"
	// ModelGBM 风险中性 GBM 离散化，up*down 不一定为 1。
	ModelGBM Model = "gbm"
)

// ParseModel 解析模型标签（不区分大小写）。
func ParseModel(s string) (Model, error) {
	m := Model(strings.ToLower(strings.TrimSpace(s)))
	if m != ModelCRR && m != ModelGBM {
		return "", xerrors.Newf(xerrors.ErrUnsupportedModel, "model %q", s)
	}
	return m, nil
}

// Exercise 行权方式。
type Exercise string

const (
	European Exercise = "European"
	American Exercise = "American"
)

// ParseExercise 解析行权方式标签（不区分大小写）。
func ParseExercise(s string) (Exercise, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "european":
		return European, nil
	case "american":
		return American, nil
	default:
		return "", xerrors.Newf(xerrors.ErrUnsupportedExercise, "exercise style %q", s)
	}
}

// Payoff 逆向归纳所需的收益函数。payoff.Payoff 满足该接口。
type Payoff interface {
	Evaluate(spot float64) float64
}
