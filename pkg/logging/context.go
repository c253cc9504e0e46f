package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	deviceUIDKey
	serviceNameKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithDeviceUID tags every log line of one firmware decision with the device.
func WithDeviceUID(ctx context.Context, deviceUID string) context.Context {
	return context.WithValue(ctx, deviceUIDKey, deviceUID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, serviceNameKey, serviceName)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func GetDeviceUID(ctx context.Context) string {
	v, _ := ctx.Value(deviceUIDKey).(string)
	return v
}

func GetServiceName(ctx context.Context) string {
	v, _ := ctx.Value(serviceNameKey).(string)
	return v
}

// GetLogFields returns the structured fields carried by ctx, including the
// active trace and span ids so log lines can be joined to traces.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)

	if v := GetRequestID(ctx); v != "" {
		fields = append(fields, "request_id", v)
	}
	if v := GetDeviceUID(ctx); v != "" {
		fields = append(fields, "device_uid", v)
	}
	if v := GetServiceName(ctx); v != "" {
		fields = append(fields, "service_name", v)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}

	return fields
}
