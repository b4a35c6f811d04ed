package tracing

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ContextKey represents keys used for context values
type ContextKey string

const (
	JobIDKey    ContextKey = "job_id"
	ConsumerKey ContextKey = "consumer"
)

func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

func GetJobID(ctx context.Context) string {
	if id, ok := ctx.Value(JobIDKey).(string); ok {
		return id
	}
	return ""
}

// WithConsumer tags the context with the broker consumer name of a worker.
func WithConsumer(ctx context.Context, consumer string) context.Context {
	return context.WithValue(ctx, ConsumerKey, consumer)
}

func GetConsumer(ctx context.Context) string {
	if c, ok := ctx.Value(ConsumerKey).(string); ok {
		return c
	}
	return ""
}

// LogFields returns the correlation fields carried by ctx.
func LogFields(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if id := GetJobID(ctx); id != "" {
		fields["job_id"] = id
	}
	if c := GetConsumer(ctx); c != "" {
		fields["consumer"] = c
	}
	if trace := GetOtelTraceID(ctx); trace != "" {
		fields["trace_id"] = trace
	}
	return fields
}
