// Package pricing 是定价引擎的统一入口：按请求分派到二叉树、蒙特卡洛或闭式解，
// 并负责缓存、指标、链路追踪与日志。
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/optionlattice/lattice"
	"github.com/wyfcoding/optionlattice/payoff"
	"github.com/wyfcoding/optionlattice/xerrors"
)

// Method 估值方法。
type Method string

const (
	MethodLattice    Method = "lattice"
	MethodMonteCarlo Method = "montecarlo"
	MethodAnalytic   Method = "analytic"
)

// ParseMethod 解析方法标签（不区分大小写），空串视为 lattice。
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MethodLattice, nil
	case MethodLattice, MethodMonteCarlo, MethodAnalytic:
		return m, nil
	default:
		return "", xerrors.Newf(xerrors.ErrUnsupportedMethod, "method %q", s)
	}
}

// pricePlaces 报价金额保留的小数位数。
const pricePlaces = 8

// Request 一次报价请求。零值字段按服务配置补全。
type Request struct {
	Params       lattice.Params
	Contract     payoff.Type
	Strike       float64
	FaceValue    float64 // 二元合约面值，默认 1
	Method       Method
	Model        lattice.Model
	Exercise     lattice.Exercise
	Resolutions  int // 二叉树收敛序列长度 num_sim
	PathExponent int // 蒙特卡洛路径数 2^PathExponent
}

// Quote 报价结果。
type Quote struct {
	Method    Method              `json:"method"`
	Contract  string              `json:"contract"`
	Exercise  lattice.Exercise    `json:"exercise"`
	Price     decimal.Decimal     `json:"price"`
	Series    []decimal.Decimal   `json:"series,omitempty"`
	Reference decimal.NullDecimal `json:"reference"` // 欧式合约的 Black-Scholes 参照值
	StdErr    decimal.Decimal     `json:"std_err"`   // 仅蒙特卡洛
	Cached    bool                `json:"cached"`
	TraceID   string              `json:"trace_id,omitempty"` // 产生本次报价的链路，未启用追踪时为空
}

// PriceFloat 以 float64 返回价格。
func (q *Quote) PriceFloat() float64 {
	return q.Price.InexactFloat64()
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(pricePlaces)
}

func moneySeries(vs []float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = money(v)
	}
	return out
}

// scale 二元合约按面值缩放，其余合约为 1。
func (r *Request) scale() float64 {
	if r.Contract.IsBinary() {
		return r.FaceValue
	}
	return 1
}

// key 规范化请求的缓存键。runtime 部分由服务追加，包含影响结果的引擎配置。
func (r *Request) key(runtime string) string {
	p := r.Params
	return fmt.Sprintf("quote|%s|%s|%s|%s|K=%g|F=%g|S=%g|r=%g|d=%g|v=%g|T=%g|n=%d|e=%d|%s",
		r.Method, r.Contract, r.Model, r.Exercise, r.Strike, r.FaceValue,
		p.S0, p.R, p.D, p.Sigma, p.T, r.Resolutions, r.PathExponent, runtime)
}
