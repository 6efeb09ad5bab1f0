// Package montecarlo 基于几何布朗运动模拟的蒙特卡洛期权估值。
package montecarlo

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/wyfcoding/optionlattice/lattice"
	"github.com/wyfcoding/optionlattice/xerrors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Scheme 终值价格的生成方式。
type Scheme string

const (
	// SchemeEuler Euler-Maruyama 离散化，按 steps 个子步推进。
	SchemeEuler Scheme = "euler"
	// SchemeExact 对数正态解析解，一步生成终值。
	SchemeExact Scheme = "exact"
)

const (
	defaultSteps     = 100
	defaultBatchSize = 4096
)

// MaxPathExponent 单次估值允许的最大路径指数，终值数组最多 2^24 个。
const MaxPathExponent = 24

// Payoff 收益函数。payoff.Payoff 满足该接口。
type Payoff interface {
	Evaluate(spot float64) float64
}

// Estimate 一次估值结果。
type Estimate struct {
	Price  float64 // 折现后的平均收益
	StdErr float64 // 标准误
	Paths  int
}

type simOptions struct {
	Scheme    Scheme
	Steps     int
	Seed      uint64
	Seeded    bool
	Workers   int
	BatchSize int
	Degree    int
}

// Option 定义模拟器配置选项。
type Option func(*simOptions)

// WithScheme 设置离散化方式。
func WithScheme(s Scheme) Option {
	return func(o *simOptions) {
		o.Scheme = s
	}
}

// WithSteps 设置每条路径的时间步数。
func WithSteps(n int) Option {
	return func(o *simOptions) {
		if n > 0 {
			o.Steps = n
		}
	}
}

// WithSeed 固定随机种子，使结果可复现。
func WithSeed(seed uint64) Option {
	return func(o *simOptions) {
		o.Seed = seed
		o.Seeded = true
	}
}

// WithWorkers 设置并行生成路径的协程数。
func WithWorkers(n int) Option {
	return func(o *simOptions) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithBatchSize 设置每个随机数流负责的路径数。
func WithBatchSize(n int) Option {
	return func(o *simOptions) {
		if n > 0 {
			o.BatchSize = n
		}
	}
}

// WithDegree 设置 LSM 回归多项式阶数。
func WithDegree(n int) Option {
	return func(o *simOptions) {
		if n > 0 {
			o.Degree = n
		}
	}
}

// Simulator 蒙特卡洛模拟器。
// 路径按固定批次生成，每批使用由 (seed, 批次号) 派生的独立 PCG 流，
// 因此固定种子时结果与并行度无关。
type Simulator struct {
	params  lattice.Params
	options *simOptions
}

// NewSimulator 创建模拟器。
func NewSimulator(p lattice.Params, opts ...Option) (*Simulator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	options := &simOptions{
		Scheme:    SchemeEuler,
		Steps:     defaultSteps,
		Workers:   runtime.GOMAXPROCS(0),
		BatchSize: defaultBatchSize,
		Degree:    2,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Scheme != SchemeEuler && options.Scheme != SchemeExact {
		return nil, xerrors.Newf(xerrors.ErrUnsupportedModel, "scheme %q", options.Scheme)
	}
	if !options.Seeded {
		options.Seed = rand.Uint64()
	}
	return &Simulator{params: p, options: options}, nil
}

// Seeded 是否使用了固定种子。
func (s *Simulator) Seeded() bool { return s.options.Seeded }

// forEachBatch 将 paths 条路径切分为批次并行处理。
func (s *Simulator) forEachBatch(ctx context.Context, paths int, fn func(rng *rand.Rand, lo, hi int)) error {
	bs := s.options.BatchSize
	batches := (paths + bs - 1) / bs

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.options.Workers)
	for b := range batches {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(s.options.Seed, uint64(b)))
			fn(rng, b*bs, min((b+1)*bs, paths))
			return nil
		})
	}
	return g.Wait()
}

// TerminalPrices 模拟 paths 条路径的到期价格。
func (s *Simulator) TerminalPrices(ctx context.Context, paths int) ([]float64, error) {
	if paths < 1 || paths > 1<<MaxPathExponent {
		return nil, xerrors.Newf(xerrors.ErrInvalidResolution, "paths=%d, allowed 1..2^%d", paths, MaxPathExponent)
	}
	p := s.params
	out := make([]float64, paths)

	var fill func(rng *rand.Rand, lo, hi int)
	switch s.options.Scheme {
	case SchemeExact:
		drift := (p.R - p.D - 0.5*p.Sigma*p.Sigma) * p.T
		vol := p.Sigma * math.Sqrt(p.T)
		fill = func(rng *rand.Rand, lo, hi int) {
			for i := lo; i < hi; i++ {
				out[i] = p.S0 * math.Exp(drift+vol*rng.NormFloat64())
			}
		}
	default:
		steps := s.options.Steps
		dt := p.T / float64(steps)
		mu := (p.R - p.D) * dt
		vol := p.Sigma * math.Sqrt(dt)
		fill = func(rng *rand.Rand, lo, hi int) {
			for i := lo; i < hi; i++ {
				spot := p.S0
				for range steps {
					spot += spot*mu + spot*vol*rng.NormFloat64()
				}
				out[i] = spot
			}
		}
	}

	if err := s.forEachBatch(ctx, paths, fill); err != nil {
		return nil, err
	}
	return out, nil
}

// Price 以折现后的平均到期收益估计欧式合约价值。
func (s *Simulator) Price(ctx context.Context, pay Payoff, paths int) (Estimate, error) {
	terminal, err := s.TerminalPrices(ctx, paths)
	if err != nil {
		return Estimate{}, err
	}
	disc := math.Exp(-s.params.R * s.params.T)
	values := make([]float64, len(terminal))
	for i, st := range terminal {
		values[i] = disc * pay.Evaluate(st)
	}
	return summarize(values), nil
}

// Series 依次以 2^1 .. 2^maxExp 条路径估值，返回整个序列。
func (s *Simulator) Series(ctx context.Context, pay Payoff, maxExp int) ([]Estimate, error) {
	if maxExp < 1 || maxExp > MaxPathExponent {
		return nil, xerrors.Newf(xerrors.ErrInvalidResolution, "path exponent=%d", maxExp)
	}
	out := make([]Estimate, 0, maxExp)
	for k := 1; k <= maxExp; k++ {
		est, err := s.Price(ctx, pay, 1<<k)
		if err != nil {
			return nil, err
		}
		out = append(out, est)
	}
	return out, nil
}

func summarize(values []float64) Estimate {
	mean, std := stat.MeanStdDev(values, nil)
	n := len(values)
	est := Estimate{Price: mean, Paths: n}
	if n > 1 {
		est.StdErr = std / math.Sqrt(float64(n))
	}
	return est
}
