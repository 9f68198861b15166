// Package trigger starts and inspects runs of a single Glue ETL job.
package trigger

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/glue"

	"gluetrigger/internal/config"
	"gluetrigger/internal/logger"
)

const (
	EnvJobName        = "JOB_NAME"
	EnvTimeoutMinutes = "JOB_TIMEOUT_MINUTES"

	// DefaultTimeoutMinutes is sent as StartJobRun.Timeout. Glue reads it as
	// minutes; the handler never enforces it locally.
	DefaultTimeoutMinutes int32 = 10
)

type JobStarter interface {
	StartJobRun(ctx context.Context, params *glue.StartJobRunInput, optFns ...func(*glue.Options)) (*glue.StartJobRunOutput, error)
}

// Event is the invocation payload. Any JSON object is accepted and ignored.
type Event map[string]any

type Config struct {
	JobName        string
	TimeoutMinutes int32
}

// ConfigFromEnv loads the trigger settings once per process.
func ConfigFromEnv(env config.Env) (Config, error) {
	name, err := config.Required(env, EnvJobName)
	if err != nil {
		return Config{}, err
	}
	timeout, err := config.Int32(env, EnvTimeoutMinutes, DefaultTimeoutMinutes)
	if err != nil {
		return Config{}, err
	}
	return Config{JobName: name, TimeoutMinutes: timeout}, nil
}

func (c Config) Validate() error {
	if c.JobName == "" {
		return &ConfigurationError{Key: EnvJobName}
	}
	if c.TimeoutMinutes <= 0 {
		return &ConfigurationError{Key: EnvTimeoutMinutes, Reason: "must be positive"}
	}
	return nil
}

func (c Config) startRequest() *glue.StartJobRunInput {
	return &glue.StartJobRunInput{
		JobName: aws.String(c.JobName),
		Timeout: aws.Int32(c.TimeoutMinutes),
	}
}

// NewGlueClient builds a client with SDK retries turned off, so a rejected
// StartJobRun reaches the caller after exactly one attempt.
func NewGlueClient(cfg aws.Config) *glue.Client {
	return glue.NewFromConfig(cfg, func(o *glue.Options) {
		o.Retryer = aws.NopRetryer{}
	})
}

type Handler struct {
	cfg  Config
	glue JobStarter
	log  *logger.Logger
}

func NewHandler(cfg Config, client JobStarter, log *logger.Logger) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{cfg: cfg, glue: client, log: log.WithComponent("trigger")}, nil
}

// Handle requests exactly one run of the configured job per invocation.
// Identical invocations start separate runs.
func (h *Handler) Handle(ctx context.Context, _ Event) (bool, error) {
	if h == nil || h.cfg.JobName == "" || h.glue == nil {
		return false, &ConfigurationError{Key: EnvJobName}
	}

	out, err := h.glue.StartJobRun(ctx, h.cfg.startRequest())
	if err != nil {
		return false, newServiceError("StartJobRun", h.cfg.JobName, err)
	}

	args := []any{
		"job_name", h.cfg.JobName,
		"job_run_id", aws.ToString(out.JobRunId),
		"timeout_minutes", h.cfg.TimeoutMinutes,
	}
	if reqID, ok := awsmiddleware.GetRequestIDMetadata(out.ResultMetadata); ok {
		args = append(args, "glue_request_id", reqID)
	}
	if body, err := json.MarshalIndent(out, "", "    "); err == nil {
		args = append(args, "response", string(body))
	} else {
		args = append(args, "response_error", err.Error())
	}
	h.log.FromLambdaContext(ctx).Info("job run started", args...)

	return true, nil
}
