package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/optionlattice/blackscholes"
	"github.com/wyfcoding/optionlattice/cache"
	"github.com/wyfcoding/optionlattice/config"
	"github.com/wyfcoding/optionlattice/lattice"
	"github.com/wyfcoding/optionlattice/logging"
	"github.com/wyfcoding/optionlattice/metrics"
	"github.com/wyfcoding/optionlattice/montecarlo"
	"github.com/wyfcoding/optionlattice/payoff"
	"github.com/wyfcoding/optionlattice/tracing"
	"github.com/wyfcoding/optionlattice/xerrors"
)

const serviceName = "optionlattice"

type serviceOptions struct {
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
	Cache      cache.Cache
	CacheTTL   time.Duration
	Lattice    config.LatticeConfig
	MonteCarlo config.MonteCarloConfig
}

// Option 定义服务配置选项。
type Option func(*serviceOptions)

// WithLogger 设置日志记录器。
func WithLogger(l *logging.Logger) Option {
	return func(o *serviceOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithMetrics 设置指标注册表。
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *serviceOptions) {
		if m != nil {
			o.Metrics = m
		}
	}
}

// WithCache 启用报价缓存。
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(o *serviceOptions) {
		o.Cache = c
		o.CacheTTL = ttl
	}
}

// WithLattice 设置二叉树引擎默认参数。
func WithLattice(c config.LatticeConfig) Option {
	return func(o *serviceOptions) {
		o.Lattice = c
	}
}

// WithMonteCarlo 设置蒙特卡洛引擎默认参数。Seed 为 0 表示不固定种子。
func WithMonteCarlo(c config.MonteCarloConfig) Option {
	return func(o *serviceOptions) {
		o.MonteCarlo = c
	}
}

// Service 定价服务，可被多个协程并发使用。
type Service struct {
	mu      sync.RWMutex
	options *serviceOptions
	logger  *logging.Logger
	metrics *metrics.Metrics
	cache   cache.Cache

	quotes   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lookups  *prometheus.CounterVec

	closers    []func(context.Context) error
	unregister func()
}

// New 创建定价服务。未指定的依赖使用默认实现，缓存默认关闭。
func New(opts ...Option) *Service {
	def := config.Default()
	options := &serviceOptions{
		Lattice:    def.Lattice,
		MonteCarlo: def.MonteCarlo,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Lattice.Resolutions == 0 {
		options.Lattice.Resolutions = def.Lattice.Resolutions
	}
	if options.Lattice.MaxResolutions == 0 {
		options.Lattice.MaxResolutions = def.Lattice.MaxResolutions
	}
	if options.MonteCarlo.Scheme == "" {
		options.MonteCarlo.Scheme = def.MonteCarlo.Scheme
	}
	if options.MonteCarlo.PathExponent == 0 {
		options.MonteCarlo.PathExponent = def.MonteCarlo.PathExponent
	}
	if options.Logger == nil {
		options.Logger = logging.Default()
	}
	if options.Metrics == nil {
		options.Metrics = metrics.NewMetrics(serviceName)
	}

	m := options.Metrics
	return &Service{
		options: options,
		logger:  options.Logger,
		metrics: m,
		cache:   options.Cache,
		quotes: m.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_quotes_total",
			Help: "Total number of quote requests",
		}, []string{"method", "status"}),
		duration: m.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricing_quote_duration_seconds",
			Help:    "Quote latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"method"}),
		lookups: m.NewCounterVec(prometheus.CounterOpts{
			Name: "pricing_cache_lookups_total",
			Help: "Quote cache lookups",
		}, []string{"result"}),
	}
}

// NewFromConfig 按配置装配日志、指标、追踪与缓存。调用方负责 Close。
func NewFromConfig(cfg *config.Config) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := logging.NewFromConfig(logging.Config{
		Service:    serviceName,
		Module:     "pricing",
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	config.PrintWithMask(logger.Logger, cfg)

	m := metrics.NewMetrics(serviceName)
	m.RegisterBuildInfo(serviceName, cfg.Version)

	opts := []Option{
		WithLogger(logger),
		WithMetrics(m),
		WithLattice(cfg.Lattice),
		WithMonteCarlo(cfg.MonteCarlo),
	}

	var closers []func(context.Context) error
	if cfg.Cache.Enabled {
		bc, err := cache.NewBigCache(cfg.Cache.TTL, cfg.Cache.MaxMB)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCache(bc, cfg.Cache.TTL))
		closers = append(closers, func(context.Context) error { return bc.Close() })
	}

	shutdown, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		for _, c := range closers {
			_ = c(context.Background())
		}
		return nil, err
	}
	closers = append(closers, shutdown)

	if cfg.Metrics.Enabled {
		stop := m.ExposeHttp(cfg.Metrics.Port)
		closers = append(closers, func(context.Context) error { stop(); return nil })
	}

	s := New(opts...)
	s.closers = closers
	s.unregister = config.RegisterReloadHook(s.Reload)

	logger.Info("pricing service initialized",
		"version", cfg.Version,
		"model", cfg.Lattice.Model,
		"max_resolutions", cfg.Lattice.MaxResolutions,
		"cache", cfg.Cache.Enabled,
		"tracing", cfg.Tracing.Enabled)
	return s, nil
}

// Reload 应用热更新后的引擎配置，后续报价生效。
func (s *Service) Reload(cfg *config.Config) {
	s.mu.Lock()
	s.options.Lattice = cfg.Lattice
	s.options.MonteCarlo = cfg.MonteCarlo
	s.mu.Unlock()
	s.logger.Info("pricing engine config reloaded",
		"model", cfg.Lattice.Model, "exercise", cfg.Lattice.Exercise, "scheme", cfg.MonteCarlo.Scheme)
}

// Metrics 返回服务使用的指标注册表。
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Close 注销热更新回调，并按注册的逆序释放追踪、缓存与指标服务。
func (s *Service) Close() error {
	if s.unregister != nil {
		s.unregister()
		s.unregister = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Service) engineConfig() (config.LatticeConfig, config.MonteCarloConfig) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.options.Lattice, s.options.MonteCarlo
}

// Quote 计算一次报价。
//
// lattice 返回完整收敛序列，价格取最细分辨率；欧式合约附带 Black-Scholes 参照值。
// montecarlo 欧式合约返回 2^1..2^PathExponent 条路径的序列，美式合约使用 LSM。
// analytic 仅支持欧式。所有错误原样返回，不做重试。
func (s *Service) Quote(ctx context.Context, req Request) (*Quote, error) {
	ctx, span := tracing.StartQuote(ctx)
	defer span.End()

	start := time.Now()
	lc, mc := s.engineConfig()

	if err := s.normalize(&req, lc, mc); err != nil {
		return nil, s.fail(ctx, req.Method, start, err)
	}
	tracing.Annotate(ctx, tracing.QuoteAttrs{
		Method:   string(req.Method),
		Contract: req.Contract.String(),
		Model:    string(req.Model),
		Exercise: string(req.Exercise),
	})

	pay, err := payoff.New(req.Contract, req.Strike)
	if err != nil {
		return nil, s.fail(ctx, req.Method, start, err)
	}

	cacheable := s.cache != nil && (req.Method != MethodMonteCarlo || mc.Seed != 0)
	var key string
	if cacheable {
		key = req.key(runtimeKey(req.Method, mc))
		if q, ok := s.lookup(ctx, key); ok {
			s.observe(req.Method, "ok", start)
			q.TraceID = tracing.TraceID(ctx)
			tracing.RecordResult(ctx, q.PriceFloat(), true)
			s.logger.InfoContext(ctx, "quote served from cache",
				"method", string(req.Method), "contract", q.Contract, "price", q.Price.String())
			return q, nil
		}
	}

	var q *Quote
	switch req.Method {
	case MethodLattice:
		q, err = s.quoteLattice(ctx, &req, pay, lc)
	case MethodMonteCarlo:
		q, err = s.quoteMonteCarlo(ctx, &req, pay, mc)
	case MethodAnalytic:
		q, err = s.quoteAnalytic(&req)
	default:
		err = xerrors.Newf(xerrors.ErrUnsupportedMethod, "method %q", req.Method)
	}
	if err != nil {
		return nil, s.fail(ctx, req.Method, start, err)
	}
	q.Method = req.Method
	q.Contract = req.Contract.String()
	q.Exercise = req.Exercise

	if cacheable {
		if err := s.cache.Set(ctx, key, q, s.options.CacheTTL); err != nil {
			s.logger.WarnContext(ctx, "quote cache write failed", "key", key, "error", err)
		}
	}

	q.TraceID = tracing.TraceID(ctx)
	s.observe(req.Method, "ok", start)
	tracing.RecordResult(ctx, q.PriceFloat(), false)
	s.logger.InfoContext(ctx, "quote priced",
		"method", string(req.Method),
		"contract", q.Contract,
		"exercise", string(req.Exercise),
		"price", q.Price.String(),
		"duration", time.Since(start))
	return q, nil
}

// normalize 以服务配置补全请求并校验。
func (s *Service) normalize(req *Request, lc config.LatticeConfig, mc config.MonteCarloConfig) error {
	method, err := ParseMethod(string(req.Method))
	if err != nil {
		req.Method = ""
		return err
	}
	req.Method = method

	if req.Model == "" {
		req.Model = lattice.Model(lc.Model)
	}
	if req.Model, err = lattice.ParseModel(string(req.Model)); err != nil {
		return err
	}
	if req.Exercise == "" {
		req.Exercise = lattice.Exercise(lc.Exercise)
	}
	if req.Exercise, err = lattice.ParseExercise(string(req.Exercise)); err != nil {
		return err
	}
	if !req.Contract.Valid() {
		return xerrors.Newf(xerrors.ErrUnknownContractType, "contract %d", int(req.Contract))
	}
	if req.FaceValue == 0 {
		req.FaceValue = 1
	}
	if req.FaceValue < 0 {
		return xerrors.Newf(xerrors.ErrInvalidParams, "face value=%g", req.FaceValue)
	}
	if err := req.Params.Validate(); err != nil {
		return err
	}

	switch req.Method {
	case MethodLattice:
		req.PathExponent = 0
		if req.Resolutions == 0 {
			req.Resolutions = lc.Resolutions
		}
	case MethodMonteCarlo:
		req.Resolutions = 0
		if req.PathExponent == 0 {
			req.PathExponent = mc.PathExponent
		}
		if req.PathExponent < 1 || req.PathExponent > montecarlo.MaxPathExponent {
			return xerrors.Newf(xerrors.ErrInvalidResolution, "path exponent=%d, allowed 1..%d", req.PathExponent, montecarlo.MaxPathExponent)
		}
	case MethodAnalytic:
		req.Resolutions, req.PathExponent = 0, 0
		if req.Exercise != lattice.European {
			return xerrors.Newf(xerrors.ErrUnsupportedExercise, "analytic method requires European exercise, got %s", req.Exercise)
		}
	}
	return nil
}

// runtimeKey 影响结果的引擎配置。蒙特卡洛结果依赖批大小，因为每批使用独立随机流。
func runtimeKey(method Method, mc config.MonteCarloConfig) string {
	if method != MethodMonteCarlo {
		return "-"
	}
	return fmt.Sprintf("%s/%d/%d/%d", mc.Scheme, mc.Steps, mc.Seed, mc.BatchSize)
}

func (s *Service) lookup(ctx context.Context, key string) (*Quote, bool) {
	var q Quote
	err := s.cache.Get(ctx, key, &q)
	switch {
	case err == nil:
		s.lookups.WithLabelValues("hit").Inc()
		q.Cached = true
		return &q, true
	case errors.Is(err, cache.ErrMiss):
		s.lookups.WithLabelValues("miss").Inc()
	default:
		s.lookups.WithLabelValues("error").Inc()
		s.logger.WarnContext(ctx, "quote cache read failed", "key", key, "error", err)
	}
	return nil, false
}

func (s *Service) quoteLattice(ctx context.Context, req *Request, pay payoff.Payoff, lc config.LatticeConfig) (*Quote, error) {
	defer s.logger.LogDuration(ctx, "lattice.converge",
		"model", string(req.Model), "resolutions", req.Resolutions)()

	conv := lattice.NewConverger(
		lattice.WithModel(req.Model),
		lattice.WithExercise(req.Exercise),
		lattice.WithWorkers(lc.Workers),
		lattice.WithMaxResolutions(lc.MaxResolutions),
		lattice.WithLogger(s.logger.Logger),
	)
	series, err := conv.Run(ctx, req.Params, req.Resolutions, pay)
	if err != nil {
		return nil, err
	}

	scale := req.scale()
	prices := series.Prices()
	for i := range prices {
		prices[i] *= scale
	}
	q := &Quote{
		Price:  money(series.Last() * scale),
		Series: moneySeries(prices),
	}
	tracing.RecordSteps(ctx, series[len(series)-1].Steps)

	if req.Exercise == lattice.European {
		ref, err := s.analytic(req)
		if err != nil {
			return nil, err
		}
		q.Reference = decimal.NewNullDecimal(money(ref))
	}
	return q, nil
}

func (s *Service) quoteMonteCarlo(ctx context.Context, req *Request, pay payoff.Payoff, mc config.MonteCarloConfig) (*Quote, error) {
	opts := []montecarlo.Option{
		montecarlo.WithScheme(montecarlo.Scheme(mc.Scheme)),
		montecarlo.WithSteps(mc.Steps),
		montecarlo.WithWorkers(mc.Workers),
		montecarlo.WithBatchSize(mc.BatchSize),
	}
	if mc.Seed != 0 {
		opts = append(opts, montecarlo.WithSeed(mc.Seed))
	}
	sim, err := montecarlo.NewSimulator(req.Params, opts...)
	if err != nil {
		return nil, err
	}

	scale := req.scale()
	tracing.RecordPaths(ctx, 1<<req.PathExponent)

	if req.Exercise == lattice.American {
		est, err := sim.American(ctx, pay, 1<<req.PathExponent)
		if err != nil {
			return nil, err
		}
		return &Quote{
			Price:  money(est.Price * scale),
			Series: []decimal.Decimal{money(est.Price * scale)},
			StdErr: money(est.StdErr * scale),
		}, nil
	}

	series, err := sim.Series(ctx, pay, req.PathExponent)
	if err != nil {
		return nil, err
	}
	prices := make([]float64, len(series))
	for i, est := range series {
		prices[i] = est.Price * scale
	}
	last := series[len(series)-1]
	q := &Quote{
		Price:  money(last.Price * scale),
		Series: moneySeries(prices),
		StdErr: money(last.StdErr * scale),
	}
	ref, err := s.analytic(req)
	if err != nil {
		return nil, err
	}
	q.Reference = decimal.NewNullDecimal(money(ref))
	return q, nil
}

func (s *Service) quoteAnalytic(req *Request) (*Quote, error) {
	v, err := s.analytic(req)
	if err != nil {
		return nil, err
	}
	return &Quote{Price: money(v)}, nil
}

// analytic 欧式合约的 Black-Scholes 价值，二元合约已按面值缩放。
func (s *Service) analytic(req *Request) (float64, error) {
	p := req.Params
	opt, err := blackscholes.New(p.S0, req.Strike, p.R, p.D, p.Sigma, p.T)
	if err != nil {
		return 0, err
	}
	return opt.Price(req.Contract, req.FaceValue)
}

func (s *Service) observe(method Method, status string, start time.Time) {
	s.quotes.WithLabelValues(string(method), status).Inc()
	s.duration.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
}

// fail 记录失败并原样返回错误。
func (s *Service) fail(ctx context.Context, method Method, start time.Time, err error) error {
	label := string(method)
	if label == "" {
		label = "unknown"
	}
	s.observe(Method(label), "error", start)
	tracing.RecordError(ctx, err)

	attrs := []any{"method", label, "error", err}
	if e, ok := xerrors.FromError(err); ok {
		attrs = append(attrs,
			"code", e.Code,
			"grpc_code", e.GRPCCode().String(),
			"http_status", e.HTTPStatus())
	}
	s.logger.WarnContext(ctx, "quote failed", attrs...)
	return err
}
