package lattice

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
	"github.com/wyfcoding/optionlattice/xerrors"
)

// DefaultMaxResolutions 默认最大分辨率层数。第 a 层有 2^a 步，占用 O(4^a) 个格点。
const DefaultMaxResolutions = 14

// HardMaxResolutions 配置允许的分辨率层数上限。
// 第 16 层的价格与现金流两张格各约 1.4e8 个格点，合计约 2 GiB。
const HardMaxResolutions = 16

// Point 收敛序列中的一项。
type Point struct {
	Index int // 分辨率序号 a，从 1 开始
	Steps int // N = 2^a
	Price float64
}

// Series 按分辨率序号排列的收敛序列。
type Series []Point

// Prices 仅返回价格。
func (s Series) Prices() []float64 {
	out := make([]float64, len(s))
	for i, pt := range s {
		out[i] = pt.Price
	}
	return out
}

// Last 返回最细分辨率的价格；序列为空时返回 0。
func (s Series) Last() float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Price
}

type convergeOptions struct {
	Logger         *slog.Logger
	Model          Model
	Exercise       Exercise
	Workers        int
	MaxResolutions int
}

// Option 定义收敛驱动的配置选项。
type Option func(*convergeOptions)

// WithModel 设置树模型。
func WithModel(m Model) Option {
	return func(o *convergeOptions) {
		o.Model = m
	}
}

// WithExercise 设置行权方式。
func WithExercise(e Exercise) Option {
	return func(o *convergeOptions) {
		o.Exercise = e
	}
}

// WithWorkers 设置并行计算的分辨率数量，<=1 时顺序执行。
func WithWorkers(n int) Option {
	return func(o *convergeOptions) {
		o.Workers = n
	}
}

// WithMaxResolutions 设置允许的最大分辨率层数。
func WithMaxResolutions(n int) Option {
	return func(o *convergeOptions) {
		o.MaxResolutions = n
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *convergeOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// Converger 收敛驱动：在 N = 2, 4, ..., 2^numSim 上重复建树与归纳。
type Converger struct {
	options *convergeOptions
}

// NewConverger 创建收敛驱动，默认 CRR、欧式、顺序执行。
func NewConverger(opts ...Option) *Converger {
	options := &convergeOptions{
		Logger:         slog.Default(),
		Model:          ModelCRR,
		Exercise:       European,
		Workers:        1,
		MaxResolutions: DefaultMaxResolutions,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.MaxResolutions > HardMaxResolutions {
		options.MaxResolutions = HardMaxResolutions
	}
	return &Converger{options: options}
}

// Model 返回当前模型。
func (c *Converger) Model() Model { return c.options.Model }

// Exercise 返回当前行权方式。
func (c *Converger) Exercise() Exercise { return c.options.Exercise }

// Run 计算长度为 numSim 的收敛序列。
//
// CRR 模型下任一分辨率违反无套利条件都会中止整个序列并返回 ErrArbitrageViolation，
// 不会跳过该分辨率继续。并行模式先按分辨率顺序完成全部无套利校验，
// 因此报告的总是最粗的违规分辨率。
func (c *Converger) Run(ctx context.Context, p Params, numSim int, pay Payoff) (Series, error) {
	if err := c.validate(p, numSim); err != nil {
		return nil, err
	}
	if c.options.Workers > 1 && numSim > 1 {
		return c.runParallel(ctx, p, numSim, pay)
	}

	series := make(Series, 0, numSim)
	for a := 1; a <= numSim; a++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pt, err := c.resolve(ctx, p, a, pay)
		if err != nil {
			return nil, err
		}
		series = append(series, pt)
	}
	return series, nil
}

func (c *Converger) validate(p Params, numSim int) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if numSim < 1 || numSim > c.options.MaxResolutions {
		return xerrors.Newf(xerrors.ErrInvalidResolution, "num_sim=%d, allowed 1..%d", numSim, c.options.MaxResolutions)
	}
	if c.options.Model != ModelCRR && c.options.Model != ModelGBM {
		return xerrors.Newf(xerrors.ErrUnsupportedModel, "model %q", c.options.Model)
	}
	if c.options.Exercise != European && c.options.Exercise != American {
		return xerrors.Newf(xerrors.ErrUnsupportedExercise, "exercise style %q", c.options.Exercise)
	}
	return nil
}

func (c *Converger) resolve(ctx context.Context, p Params, a int, pay Payoff) (Point, error) {
	steps := 1 << a
	v, err := Price(p, steps, c.options.Model, pay, c.options.Exercise)
	if err != nil {
		return Point{}, err
	}
	c.options.Logger.DebugContext(ctx, "lattice resolution priced",
		"index", a, "steps", steps, "model", string(c.options.Model),
		"exercise", string(c.options.Exercise), "price", v.Value)
	return Point{Index: a, Steps: steps, Price: v.Value}, nil
}

func (c *Converger) runParallel(ctx context.Context, p Params, numSim int, pay Payoff) (Series, error) {
	for a := 1; a <= numSim; a++ {
		if err := CheckNoArbitrage(p, 1<<a, c.options.Model); err != nil {
			return nil, err
		}
	}

	series := make(Series, numSim)
	workers := pool.New().
		WithErrors().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(c.options.Workers)

	// 先提交最细的分辨率，它占据了绝大部分计算量。
	for a := numSim; a >= 1; a-- {
		workers.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pt, err := c.resolve(ctx, p, a, pay)
			if err != nil {
				return err
			}
			series[a-1] = pt
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}
	return series, nil
}

// Converge 以默认选项计算收敛序列，返回各分辨率价格。
func Converge(p Params, numSim int, pay Payoff, model Model, exercise Exercise) ([]float64, error) {
	series, err := NewConverger(WithModel(model), WithExercise(exercise)).Run(context.Background(), p, numSim, pay)
	if err != nil {
		return nil, err
	}
	return series.Prices(), nil
}
