// Package tracing 提供报价链路的 OpenTelemetry 追踪：OTLP 导出初始化与报价 span 的属性约定.
package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/optionlattice/config"
	"github.com/wyfcoding/optionlattice/xerrors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/wyfcoding/optionlattice/pricing"

// QuoteSpanName 报价 span 名称.
const QuoteSpanName = "pricing.Quote"

// 报价 span 的属性键.
const (
	KeyMethod    = attribute.Key("pricing.method")
	KeyContract  = attribute.Key("pricing.contract")
	KeyModel     = attribute.Key("pricing.model")
	KeyExercise  = attribute.Key("pricing.exercise")
	KeySteps     = attribute.Key("pricing.steps")
	KeyPaths     = attribute.Key("pricing.paths")
	KeyPrice     = attribute.Key("pricing.price")
	KeyCached    = attribute.Key("pricing.cached")
	KeyErrorCode = attribute.Key("pricing.error_code")
)

// QuoteAttrs 规范化后的报价请求描述.
type QuoteAttrs struct {
	Method   string
	Contract string
	Model    string
	Exercise string
}

// NewProvider 按配置构造 TracerProvider：服务名资源加父级优先的比例采样.
// 不修改全局 Provider.
func NewProvider(cfg config.TracingConfig, processor sdktrace.SpanProcessor) (*sdktrace.TracerProvider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "optionlattice"
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(name)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplerRatio))),
	), nil
}

// InitTracer 启用时以 OTLP gRPC 批量导出并注册为全局 Provider.
// 未启用时不做任何替换，返回的 shutdown 为空操作.
func InitTracer(cfg config.TracingConfig) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	tp, err := NewProvider(cfg, sdktrace.NewBatchSpanProcessor(exporter))
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	slog.Info("tracer provider initialized",
		"service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint, "ratio", cfg.SamplerRatio)
	return tp.Shutdown, nil
}

// StartQuote 开始一个报价 span，调用方负责 End.
//
//nolint:spancheck // 生命周期由调用方管理.
func StartQuote(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, QuoteSpanName, trace.WithSpanKind(trace.SpanKindInternal))
}

// Annotate 写入规范化后的请求属性.
func Annotate(ctx context.Context, a QuoteAttrs) {
	trace.SpanFromContext(ctx).SetAttributes(
		KeyMethod.String(a.Method),
		KeyContract.String(a.Contract),
		KeyModel.String(a.Model),
		KeyExercise.String(a.Exercise),
	)
}

// RecordSteps 记录最细分辨率的步数.
func RecordSteps(ctx context.Context, steps int) {
	trace.SpanFromContext(ctx).SetAttributes(KeySteps.Int(steps))
}

// RecordPaths 记录蒙特卡洛路径数.
func RecordPaths(ctx context.Context, paths int) {
	trace.SpanFromContext(ctx).SetAttributes(KeyPaths.Int(paths))
}

// RecordResult 记录报价结果与是否命中缓存.
func RecordResult(ctx context.Context, price float64, cached bool) {
	trace.SpanFromContext(ctx).SetAttributes(KeyPrice.Float64(price), KeyCached.Bool(cached))
}

// RecordError 记录错误并将 span 标记为失败；*xerrors.Error 额外写入业务码.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if e, ok := xerrors.FromError(err); ok {
		span.SetAttributes(KeyErrorCode.Int(e.Code))
	}
}

// TraceID 返回当前链路的追踪 ID，没有 span 时为空串.
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		return spanCtx.TraceID().String()
	}
	return ""
}
