// pkg/charon_io/context.go

package charon_io

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_err"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RuntimeContext carries the per-command context, logger, and span through
// every engine operation.
type RuntimeContext struct {
	Ctx        context.Context
	Log        *zap.Logger
	Timestamp  time.Time
	Span       trace.Span
	Command    string
	Attributes map[string]string

	cancel context.CancelFunc
}

// NewContext sets up tracing and a scoped logger for one CLI invocation.
func NewContext(ctx context.Context, cmdName string) *RuntimeContext {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	ctx, span := telemetry.Start(ctx, cmdName)
	traceID := span.SpanContext().TraceID().String()

	logger := zap.L().With(
		zap.String("command", cmdName),
		zap.String("trace_id", traceID),
	).Named(cmdName)

	return &RuntimeContext{
		Ctx:        ctx,
		Span:       span,
		Log:        logger,
		Timestamp:  time.Now(),
		Command:    cmdName,
		Attributes: make(map[string]string),
		cancel:     cancel,
	}
}

// NewExtendedContext is like NewContext but bounds the whole invocation with
// a deadline. Used for deploy runs, which must never hang forever on a dead
// SSH transport.
func NewExtendedContext(ctx context.Context, cmdName string, timeout time.Duration) *RuntimeContext {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	ctx, span := telemetry.Start(ctx, cmdName)
	traceID := span.SpanContext().TraceID().String()

	logger := zap.L().With(
		zap.String("command", cmdName),
		zap.String("trace_id", traceID),
	).Named(cmdName)

	return &RuntimeContext{
		Ctx:        ctx,
		Span:       span,
		Log:        logger,
		Timestamp:  time.Now(),
		Command:    cmdName,
		Attributes: make(map[string]string),
		cancel:     cancel,
	}
}

// Cancel aborts every operation running under this context. Remote commands
// stop being waited on; the remote process itself is not killed.
func (rc *RuntimeContext) Cancel() {
	if rc.cancel != nil {
		rc.cancel()
	}
}

// HandlePanic recovers panics, logs them, and converts to an error.
func (rc *RuntimeContext) HandlePanic(errPtr *error) {
	if r := recover(); r != nil {
		*errPtr = cerr.AssertionFailedf("panic: %v", r)
		rc.Log.Error("panic recovered", zap.Any("panic", r))
	}
}

// End logs the outcome, records the final span, and releases the context.
func (rc *RuntimeContext) End(errPtr *error) {
	defer rc.Span.End()
	if rc.cancel != nil {
		defer rc.cancel()
	}

	duration := time.Since(rc.Timestamp)
	success := (*errPtr == nil)

	if success {
		rc.Log.Info("Command completed", zap.Duration("duration", duration))
	} else {
		rc.Log.Error("Command failed", zap.Duration("duration", duration), zap.Error(*errPtr))
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
		attribute.Int64("duration_ms", duration.Milliseconds()),
		attribute.String("os", runtime.GOOS),
		attribute.String("args", strings.Join(os.Args[1:], " ")),
		attribute.String("error_type", classifyError(*errPtr)),
	}
	_, span := telemetry.Start(rc.Ctx, rc.Command, attrs...)
	span.End()
}

func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case charon_err.IsValidation(err), charon_err.IsPrecondition(err):
		return "user"
	case charon_err.IsRollbackFailure(err):
		return "fatal"
	default:
		return "system"
	}
}
