// Package blackscholes 提供 Black-Scholes 闭式定价与解析希腊字母，作为数值方法的参照。
package blackscholes

import (
	"math"

	"github.com/wyfcoding/optionlattice/payoff"
	"github.com/wyfcoding/optionlattice/xerrors"
	"gonum.org/v1/gonum/stat/distuv"
)

// Option 闭式定价所需的合约与市场参数。
type Option struct {
	S     float64 // 标的价格
	K     float64 // 行权价
	R     float64 // 无风险利率
	D     float64 // 连续股息率
	Sigma float64 // 波动率
	T     float64 // 到期时间（年）

	d1 float64
	d2 float64
}

// New 校验参数并预先计算 d1、d2。
func New(s, k, r, d, sigma, t float64) (*Option, error) {
	if s <= 0 || k <= 0 || sigma <= 0 || t <= 0 {
		return nil, xerrors.Newf(xerrors.ErrInvalidParams, "S=%g K=%g sigma=%g T=%g", s, k, sigma, t)
	}
	o := &Option{S: s, K: k, R: r, D: d, Sigma: sigma, T: t}
	sqrtT := math.Sqrt(t)
	o.d1 = (math.Log(s/k) + (r-d+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	o.d2 = o.d1 - sigma*sqrtT
	return o, nil
}

// D1 返回 d1。
func (o *Option) D1() float64 { return o.d1 }

// D2 返回 d2。
func (o *Option) D2() float64 { return o.d2 }

func normCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

func normPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

// ForwardPrice 远期价格 S*e^{(r-d)T}。
func (o *Option) ForwardPrice() float64 {
	return o.S * math.Exp((o.R-o.D)*o.T)
}

// EuropeanCall 欧式看涨期权价格。
func (o *Option) EuropeanCall() float64 {
	return o.S*math.Exp(-o.D*o.T)*normCDF(o.d1) - o.K*math.Exp(-o.R*o.T)*normCDF(o.d2)
}

// EuropeanPut 欧式看跌期权价格。
func (o *Option) EuropeanPut() float64 {
	return o.K*math.Exp(-o.R*o.T)*normCDF(-o.d2) - o.S*math.Exp(-o.D*o.T)*normCDF(-o.d1)
}

// BinaryCall 现金或无看涨期权价格。
func (o *Option) BinaryCall(faceValue float64) float64 {
	return faceValue * math.Exp(-o.R*o.T) * normCDF(o.d2)
}

// BinaryPut 现金或无看跌期权价格。
func (o *Option) BinaryPut(faceValue float64) float64 {
	return faceValue * math.Exp(-o.R*o.T) * normCDF(-o.d2)
}

// ZeroCouponBond 零息债券价格。
func (o *Option) ZeroCouponBond(faceValue float64) float64 {
	return faceValue * math.Exp(-o.R*o.T)
}

// ForwardContract 以 K 交割的远期合约价值。
func (o *Option) ForwardContract() float64 {
	return o.S*math.Exp(-o.D*o.T) - o.K*math.Exp(-o.R*o.T)
}

// Price 按合约类型返回闭式价格，二元合约按 faceValue 缩放。
func (o *Option) Price(kind payoff.Type, faceValue float64) (float64, error) {
	switch kind {
	case payoff.EuropeanCall:
		return o.EuropeanCall(), nil
	case payoff.EuropeanPut:
		return o.EuropeanPut(), nil
	case payoff.BinaryCall:
		return o.BinaryCall(faceValue), nil
	case payoff.BinaryPut:
		return o.BinaryPut(faceValue), nil
	default:
		return 0, xerrors.Newf(xerrors.ErrUnknownContractType, "option type %d", int(kind))
	}
}
