// Package payoff 定义到期收益函数：按合约类型与行权价对标的价格求值。
package payoff

import (
	"github.com/wyfcoding/optionlattice/xerrors"
)

// Type 合约类型。
type Type int

const (
	// EuropeanCall 普通看涨，收益 max(S-K, 0)。
	EuropeanCall Type = iota + 1
	// EuropeanPut 普通看跌，收益 max(K-S, 0)。
	EuropeanPut
	// BinaryCall 现金或无看涨，S>=K 时支付 1。
	BinaryCall
	// BinaryPut 现金或无看跌，S<=K 时支付 1。
	BinaryPut
)

var typeNames = map[Type]string{
	EuropeanCall: "European call",
	EuropeanPut:  "European put",
	BinaryCall:   "Binary call",
	BinaryPut:    "Binary put",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Valid 判断是否为已知合约类型。
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// IsCall 看涨类合约（普通看涨与二元看涨）。
func (t Type) IsCall() bool {
	return t == EuropeanCall || t == BinaryCall
}

// IsBinary 现金或无 (cash-or-nothing) 合约。
func (t Type) IsBinary() bool {
	return t == BinaryCall || t == BinaryPut
}

// ParseType 解析合约类型标签，例如 "European call"。
func ParseType(tag string) (Type, error) {
	for t, name := range typeNames {
		if name == tag {
			return t, nil
		}
	}
	return 0, xerrors.Newf(xerrors.ErrUnknownContractType, "unknown option type %q", tag)
}

// Payoff 到期收益函数。
// 二元合约返回 0/1，面值缩放由调用方完成。
// 必须经 New 或 MustNew 创建；零值没有合约类型，对任何价格都返回 0。
type Payoff struct {
	kind   Type
	strike float64
}

// New 创建收益函数。
func New(kind Type, strike float64) (Payoff, error) {
	if !kind.Valid() {
		return Payoff{}, xerrors.Newf(xerrors.ErrUnknownContractType, "unknown option type %d", int(kind))
	}
	if strike <= 0 {
		return Payoff{}, xerrors.Newf(xerrors.ErrInvalidParams, "strike must be positive, got %g", strike)
	}
	return Payoff{kind: kind, strike: strike}, nil
}

// MustNew 与 New 相同，参数非法时 panic。仅用于常量参数。
func MustNew(kind Type, strike float64) Payoff {
	p, err := New(kind, strike)
	if err != nil {
		panic(err)
	}
	return p
}

// Type 返回合约类型，零值 Payoff 返回 0。
func (p Payoff) Type() Type { return p.kind }

// Strike 返回行权价。
func (p Payoff) Strike() float64 { return p.strike }

// Evaluate 计算单个价格的收益。
// 二元看涨在 S>=K 时支付，二元看跌在 S<=K 时支付，行权价处两者都支付。
func (p Payoff) Evaluate(spot float64) float64 {
	switch p.kind {
	case EuropeanCall:
		return max(spot-p.strike, 0)
	case EuropeanPut:
		return max(p.strike-spot, 0)
	case BinaryCall:
		if spot >= p.strike {
			return 1
		}
		return 0
	case BinaryPut:
		if spot <= p.strike {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Apply 对一组价格逐点求值，返回等长的新切片。
func (p Payoff) Apply(spots []float64) []float64 {
	out := make([]float64, len(spots))
	for i, s := range spots {
		out[i] = p.Evaluate(s)
	}
	return out
}
