package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"

	"gluetrigger/internal/config"
)

// Logger wraps slog.Logger with Lambda-aware helpers.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output defaults to os.Stdout, which Lambda ships to CloudWatch.
	Output io.Writer
	// ServiceName is attached to every line as "service".
	ServiceName string
}

// ConfigFromEnv reads LOG_LEVEL, LOG_FORMAT and SERVICE_NAME. The service
// name falls back to the Lambda function name, then to def.
func ConfigFromEnv(env config.Env, def string) Config {
	svc := config.String(env, "SERVICE_NAME", "")
	if svc == "" {
		svc = config.String(env, "AWS_LAMBDA_FUNCTION_NAME", def)
	}
	return Config{
		Level:       config.String(env, "LOG_LEVEL", "info"),
		Format:      config.String(env, "LOG_FORMAT", "json"),
		Output:      os.Stdout,
		ServiceName: svc,
	}
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	if cfg.ServiceName != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})
	}

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Config{Output: io.Discard, Level: "error"})
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", component))}
}

func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.Logger.With(slog.String("error", err.Error()))}
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return &Logger{Logger: l.Logger.With(attrs...)}
}

// FromLambdaContext tags the logger with the invocation's request id and
// function ARN when ctx comes from the Lambda runtime.
func (l *Logger) FromLambdaContext(ctx context.Context) *Logger {
	lc, ok := lambdacontext.FromContext(ctx)
	if !ok || lc == nil {
		return l
	}
	attrs := make([]any, 0, 4)
	if lc.AwsRequestID != "" {
		attrs = append(attrs, "request_id", lc.AwsRequestID)
	}
	if lc.InvokedFunctionArn != "" {
		attrs = append(attrs, "function_arn", lc.InvokedFunctionArn)
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{Logger: l.Logger.With(attrs...)}
}

// Fatal logs at error level and exits. Only for cold start failures.
func (l *Logger) Fatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Error(msg, args...)
	os.Exit(1)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
