package trigger

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"

	"gluetrigger/internal/logger"
)

type JobRunReader interface {
	GetJobRun(ctx context.Context, params *glue.GetJobRunInput, optFns ...func(*glue.Options)) (*glue.GetJobRunOutput, error)
}

type StatusRequest struct {
	JobRunID string `json:"job_run_id"`
	JobName  string `json:"job_name,omitempty"`
}

type RunStatus struct {
	JobName          string     `json:"job_name"`
	RunID            string     `json:"job_run_id"`
	State            string     `json:"state"`
	Terminal         bool       `json:"terminal"`
	Attempt          int32      `json:"attempt"`
	StartedOn        *time.Time `json:"started_on,omitempty"`
	CompletedOn      *time.Time `json:"completed_on,omitempty"`
	ExecutionSeconds int32      `json:"execution_seconds"`
	TimeoutMinutes   int32      `json:"timeout_minutes,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// IsTerminalState reports whether a Glue job run state is final.
func IsTerminalState(state string) bool {
	switch gluetypes.JobRunState(strings.ToUpper(strings.TrimSpace(state))) {
	case gluetypes.JobRunStateSucceeded,
		gluetypes.JobRunStateFailed,
		gluetypes.JobRunStateTimeout,
		gluetypes.JobRunStateStopped,
		gluetypes.JobRunStateError,
		"EXPIRED":
		return true
	}
	return false
}

type StatusHandler struct {
	jobName string
	glue    JobRunReader
	log     *logger.Logger
}

// NewStatusHandler reads run state for jobName unless a request names
// another job.
func NewStatusHandler(jobName string, client JobRunReader, log *logger.Logger) (*StatusHandler, error) {
	if strings.TrimSpace(jobName) == "" {
		return nil, &ConfigurationError{Key: EnvJobName}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &StatusHandler{jobName: jobName, glue: client, log: log.WithComponent("status")}, nil
}

func (h *StatusHandler) Handle(ctx context.Context, req StatusRequest) (RunStatus, error) {
	runID := strings.TrimSpace(req.JobRunID)
	if runID == "" {
		return RunStatus{}, ErrMissingRunID
	}
	jobName := strings.TrimSpace(req.JobName)
	if jobName == "" {
		jobName = h.jobName
	}

	out, err := h.glue.GetJobRun(ctx, &glue.GetJobRunInput{
		JobName: aws.String(jobName),
		RunId:   aws.String(runID),
	})
	if err != nil {
		return RunStatus{}, newServiceError("GetJobRun", jobName, err)
	}

	st := RunStatus{JobName: jobName, RunID: runID}
	if jr := out.JobRun; jr != nil {
		st.State = string(jr.JobRunState)
		st.Attempt = jr.Attempt
		st.StartedOn = jr.StartedOn
		st.CompletedOn = jr.CompletedOn
		st.ExecutionSeconds = jr.ExecutionTime
		st.TimeoutMinutes = aws.ToInt32(jr.Timeout)
		st.ErrorMessage = aws.ToString(jr.ErrorMessage)
	}
	st.Terminal = IsTerminalState(st.State)

	h.log.FromLambdaContext(ctx).Debug("job run status",
		"job_name", jobName,
		"job_run_id", runID,
		"state", st.State,
	)
	return st, nil
}
