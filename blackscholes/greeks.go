package blackscholes

import "math"

// Greeks 普通欧式期权的解析希腊字母（未做 /100、/365 缩放）。
type Greeks struct {
	Delta float64
	Gamma float64
	Vega  float64
	Rho   float64
	Theta float64
}

// Delta 对标的价格的一阶敏感度。
func (o *Option) Delta(isCall bool) float64 {
	q := math.Exp(-o.D * o.T)
	if isCall {
		return q * normCDF(o.d1)
	}
	return q * (normCDF(o.d1) - 1)
}

// Gamma 对标的价格的二阶敏感度，看涨看跌相同。
func (o *Option) Gamma() float64 {
	return math.Exp(-o.D*o.T) * normPDF(o.d1) / (o.S * o.Sigma * math.Sqrt(o.T))
}

// Vega 对波动率的敏感度，看涨看跌相同。
func (o *Option) Vega() float64 {
	return o.S * math.Exp(-o.D*o.T) * math.Sqrt(o.T) * normPDF(o.d1)
}

// Rho 对利率的敏感度。
func (o *Option) Rho(isCall bool) float64 {
	disc := o.K * o.T * math.Exp(-o.R*o.T)
	if isCall {
		return disc * normCDF(o.d2)
	}
	return -disc * normCDF(-o.d2)
}

// Theta 对时间的敏感度（按年）。
func (o *Option) Theta(isCall bool) float64 {
	q := math.Exp(-o.D * o.T)
	disc := math.Exp(-o.R * o.T)
	decay := -o.S * q * normPDF(o.d1) * o.Sigma / (2 * math.Sqrt(o.T))
	if isCall {
		return decay - o.R*o.K*disc*normCDF(o.d2) + o.D*o.S*q*normCDF(o.d1)
	}
	return decay + o.R*o.K*disc*normCDF(-o.d2) - o.D*o.S*q*normCDF(-o.d1)
}

// Greeks 一次性计算全部希腊字母。
func (o *Option) Greeks(isCall bool) Greeks {
	return Greeks{
		Delta: o.Delta(isCall),
		Gamma: o.Gamma(),
		Vega:  o.Vega(),
		Rho:   o.Rho(isCall),
		Theta: o.Theta(isCall),
	}
}
