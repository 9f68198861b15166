package jobevents

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"gluetrigger/internal/trigger"
)

type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// RunRecord is the latest known state of one job run.
type RunRecord struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	JobName     string `dynamodbav:"JobName"`
	RunID       string `dynamodbav:"RunId"`
	State       string `dynamodbav:"State"`
	Message     string `dynamodbav:"Message,omitempty"`
	Severity    string `dynamodbav:"Severity,omitempty"`
	EventTime   string `dynamodbav:"EventTime"`
	// EventTimeNs and StateRank order updates. EventBridge times are only
	// second precise, so same-second events fall back to the state rank.
	EventTimeNs int64  `dynamodbav:"EventTimeNs"`
	StateRank   int    `dynamodbav:"StateRank"`
	UpdatedAt   string `dynamodbav:"UpdatedAt"`
}

func JobPK(jobName string) string   { return "JOB#" + jobName }
func RunSK(runID string) string     { return "RUN#" + runID }
func EventPK(eventID string) string { return "EVENT#" + eventID }

const claimSK = "CLAIM"

const recordCondition = "attribute_not_exists(PK) OR EventTimeNs < :t OR (EventTimeNs = :t AND StateRank < :r)"

// stateRank orders the states a run moves through.
func stateRank(state string) int {
	switch state {
	case "STARTING":
		return 1
	case "RUNNING":
		return 2
	case "STOPPING":
		return 3
	}
	if trigger.IsTerminalState(state) {
		return 4
	}
	return 0
}

// Ledger keeps run state and event claims in one DynamoDB table keyed by
// PK/SK. A zero table name disables it.
type Ledger struct {
	table string
	ttl   time.Duration
	ddb   DDBClient
	now   func() time.Time
}

func NewLedger(table string, ttl time.Duration, client DDBClient) *Ledger {
	return &Ledger{table: table, ttl: ttl, ddb: client, now: time.Now}
}

func (l *Ledger) Enabled() bool { return l != nil && l.table != "" }

// Claim returns (isDuplicate, error). If duplicate, the caller should stop.
func (l *Ledger) Claim(ctx context.Context, sc StateChange) (bool, error) {
	if !l.Enabled() || sc.EventID == "" {
		return false, nil
	}

	now := l.now().UTC()
	_, err := l.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]ddbtypes.AttributeValue{
			"PK":        &ddbtypes.AttributeValueMemberS{Value: EventPK(sc.EventID)},
			"SK":        &ddbtypes.AttributeValueMemberS{Value: claimSK},
			"JobName":   &ddbtypes.AttributeValueMemberS{Value: sc.JobName},
			"RunId":     &ddbtypes.AttributeValueMemberS{Value: sc.RunID},
			"State":     &ddbtypes.AttributeValueMemberS{Value: sc.State},
			"CreatedAt": &ddbtypes.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			"ExpiresAt": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(l.ttl).Unix())},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var cfe *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return true, nil
		}
		return false, fmt.Errorf("dynamodb claim event %s: %w", sc.EventID, err)
	}
	return false, nil
}

// Release drops a claim so a retried delivery is processed again.
func (l *Ledger) Release(ctx context.Context, sc StateChange) error {
	if !l.Enabled() || sc.EventID == "" {
		return nil
	}
	_, err := l.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.table),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: EventPK(sc.EventID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: claimSK},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb release event %s: %w", sc.EventID, err)
	}
	return nil
}

// Record stores sc as the run's current state. An event that is older than
// the stored one, or from the same instant with an equal or earlier state,
// is not written and reports (false, nil).
func (l *Ledger) Record(ctx context.Context, sc StateChange) (bool, error) {
	if !l.Enabled() {
		return false, nil
	}

	eventTime := sc.Time.UTC().Format(time.RFC3339)
	item, err := attributevalue.MarshalMap(RunRecord{
		PK:          JobPK(sc.JobName),
		SK:          RunSK(sc.RunID),
		JobName:     sc.JobName,
		RunID:       sc.RunID,
		State:       sc.State,
		Message:     sc.Message,
		Severity:    sc.Severity,
		EventTime:   eventTime,
		EventTimeNs: sc.Time.UnixNano(),
		StateRank:   stateRank(sc.State),
		UpdatedAt:   l.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, fmt.Errorf("marshal run record: %w", err)
	}

	_, err = l.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.table),
		Item:                item,
		ConditionExpression: aws.String(recordCondition),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":t": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(sc.Time.UnixNano(), 10)},
			":r": &ddbtypes.AttributeValueMemberN{Value: strconv.Itoa(stateRank(sc.State))},
		},
	})
	if err != nil {
		var cfe *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return false, nil
		}
		return false, fmt.Errorf("dynamodb put run %s/%s: %w", sc.JobName, sc.RunID, err)
	}
	return true, nil
}
