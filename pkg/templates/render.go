// pkg/templates/render.go
//
// Centralized template rendering for generated host artifacts (systemd
// units, nginx server blocks). Rendering is size-limited, timeout-bounded,
// and rate-limited so a misbehaving descriptor cannot wedge a deploy run.

package templates

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxTemplateSize bounds template input to prevent resource exhaustion.
	DefaultMaxTemplateSize = 1 * 1024 * 1024 // 1MB

	// DefaultTemplateTimeout bounds template execution.
	DefaultTemplateTimeout = 30 * time.Second

	RateLimitBurst     = 20
	RateLimitPerMinute = 120
)

var (
	globalRateLimiter = rate.NewLimiter(rate.Every(time.Minute/RateLimitPerMinute), RateLimitBurst)
	rateLimiterMu     sync.Mutex
)

// RenderOptions tune a single render call.
type RenderOptions struct {
	MaxSize             int64
	Timeout             time.Duration
	DisableRateLimiting bool
}

func DefaultRenderOptions() *RenderOptions {
	return &RenderOptions{
		MaxSize: DefaultMaxTemplateSize,
		Timeout: DefaultTemplateTimeout,
	}
}

// Renderer provides bounded template rendering.
type Renderer struct {
	logger *zap.Logger
}

func NewRenderer(logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.L()
	}
	return &Renderer{
		logger: logger.Named("template-renderer"),
	}
}

// RenderString renders a template from a string with the given data.
func (r *Renderer) RenderString(ctx context.Context, tmplStr string, data interface{}, opts *RenderOptions) (string, error) {
	if opts == nil {
		opts = DefaultRenderOptions()
	}

	if !opts.DisableRateLimiting {
		rateLimiterMu.Lock()
		allowed := globalRateLimiter.Allow()
		rateLimiterMu.Unlock()
		if !allowed {
			r.logger.Warn("Template rendering rate limit exceeded")
			return "", fmt.Errorf("rate limit exceeded for template operations (max %d/min)", RateLimitPerMinute)
		}
	}

	if int64(len(tmplStr)) > opts.MaxSize {
		return "", fmt.Errorf("template size %d exceeds limit %d", len(tmplStr), opts.MaxSize)
	}

	renderCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	tmpl, err := template.New("template").Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	resultChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			errChan <- fmt.Errorf("failed to execute template: %w", err)
			return
		}
		resultChan <- buf.String()
	}()

	select {
	case <-renderCtx.Done():
		r.logger.Error("Template rendering timed out",
			zap.Duration("timeout", opts.Timeout))
		return "", fmt.Errorf("template rendering timed out after %s", opts.Timeout)
	case err := <-errChan:
		return "", err
	case result := <-resultChan:
		r.logger.Debug("Template rendered",
			zap.Int("output_size", len(result)))
		return result, nil
	}
}

// RenderString is a convenience wrapper for quick template rendering.
func RenderString(ctx context.Context, tmplStr string, data interface{}) (string, error) {
	renderer := NewRenderer(nil)
	return renderer.RenderString(ctx, tmplStr, data, DefaultRenderOptions())
}
