// Package telemetry 封装 OpenTelemetry tracing。
// 只依赖 otel API；exporter 由嵌入方配置。
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/BaSui01/crewflow"

// Tracer 返回框架统一的 tracer
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan 开启一个 span，attrs 作为初始属性
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// EndSpan 结束 span，err 非空时标记错误状态
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
