package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
)

type AthenaClient interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
}

type AthenaOptions struct {
	Database       string
	Workgroup      string
	OutputLocation string // s3://.../athena-results/
	MaxWait        time.Duration
	PollInterval   time.Duration
}

type AthenaError struct {
	State            string
	Reason           string
	QueryExecutionID string
}

func (e *AthenaError) Error() string {
	if e.QueryExecutionID != "" {
		return fmt.Sprintf("athena %s: %s (qid=%s)", e.State, e.Reason, e.QueryExecutionID)
	}
	return fmt.Sprintf("athena %s: %s", e.State, e.Reason)
}

type RepairResult struct {
	QueryID      string `json:"query_id"`
	State        string `json:"state"`
	Table        string `json:"table"`
	ScannedBytes int64  `json:"scanned_bytes"`
	ExecutionMs  int64  `json:"exec_ms"`
}

var tableNameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// RepairPartitions runs MSCK REPAIR TABLE and waits for it to finish.
func RepairPartitions(ctx context.Context, c AthenaClient, table string, opt AthenaOptions) (*RepairResult, error) {
	if !tableNameRE.MatchString(table) {
		return nil, fmt.Errorf("invalid athena table name %q", table)
	}
	if strings.TrimSpace(opt.Database) == "" {
		return nil, fmt.Errorf("missing athena database")
	}
	if !strings.HasPrefix(opt.OutputLocation, "s3://") {
		return nil, fmt.Errorf("athena output location must start with s3://")
	}
	if opt.Workgroup == "" {
		opt.Workgroup = "primary"
	}
	if opt.MaxWait == 0 {
		opt.MaxWait = 60 * time.Second
	}
	if opt.PollInterval == 0 {
		opt.PollInterval = 2 * time.Second
	}

	startOut, err := c.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(fmt.Sprintf("MSCK REPAIR TABLE %s", table)),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(opt.Database),
		},
		WorkGroup: aws.String(opt.Workgroup),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(opt.OutputLocation),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("athena StartQueryExecution: %w", err)
	}
	qid := aws.ToString(startOut.QueryExecutionId)

	deadline := time.Now().Add(opt.MaxWait)
	for {
		getOut, err := c.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			return nil, fmt.Errorf("athena GetQueryExecution: %w", err)
		}
		exec := getOut.QueryExecution
		if exec == nil || exec.Status == nil {
			return nil, &AthenaError{State: "UNKNOWN", Reason: "empty query status", QueryExecutionID: qid}
		}

		switch exec.Status.State {
		case athenatypes.QueryExecutionStateSucceeded:
			res := &RepairResult{QueryID: qid, State: string(exec.Status.State), Table: table}
			if exec.Statistics != nil {
				res.ScannedBytes = aws.ToInt64(exec.Statistics.DataScannedInBytes)
				res.ExecutionMs = aws.ToInt64(exec.Statistics.EngineExecutionTimeInMillis)
			}
			return res, nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return nil, &AthenaError{
				State:            string(exec.Status.State),
				Reason:           aws.ToString(exec.Status.StateChangeReason),
				QueryExecutionID: qid,
			}
		}

		if time.Now().Add(opt.PollInterval).After(deadline) {
			return nil, &AthenaError{State: "TIMEOUT", Reason: "query timed out", QueryExecutionID: qid}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opt.PollInterval):
		}
	}
}
