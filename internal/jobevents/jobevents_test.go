package jobevents

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gluetrigger/internal/config"
	"gluetrigger/internal/runarchive"
)

// fakeDDB honours the two condition expressions the ledger uses.
type fakeDDB struct {
	mu      sync.Mutex
	items   map[string]map[string]ddbtypes.AttributeValue
	puts    []*dynamodb.PutItemInput
	deletes []*dynamodb.DeleteItemInput
	err     error
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: map[string]map[string]ddbtypes.AttributeValue{}}
}

func itemKey(item map[string]ddbtypes.AttributeValue) string {
	return item["PK"].(*ddbtypes.AttributeValueMemberS).Value + "|" + item["SK"].(*ddbtypes.AttributeValueMemberS).Value
}

func (f *fakeDDB) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	if f.err != nil {
		return nil, f.err
	}

	k := itemKey(in.Item)
	existing, exists := f.items[k]
	cond := aws.ToString(in.ConditionExpression)
	switch {
	case cond == "attribute_not_exists(PK)" && exists:
		return nil, &ddbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	case cond == recordCondition && exists:
		newT, oldT := numAttr(in.ExpressionAttributeValues[":t"]), numAttr(existing["EventTimeNs"])
		newR, oldR := numAttr(in.ExpressionAttributeValues[":r"]), numAttr(existing["StateRank"])
		if !(oldT < newT || (oldT == newT && oldR < newR)) {
			return nil, &ddbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func numAttr(av ddbtypes.AttributeValue) int64 {
	n, _ := strconv.ParseInt(av.(*ddbtypes.AttributeValueMemberN).Value, 10, 64)
	return n
}

func (f *fakeDDB) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, in)
	delete(f.items, itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDDB) run(t *testing.T, job, run string) RunRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[JobPK(job)+"|"+RunSK(run)]
	require.True(t, ok, "run record %s/%s", job, run)
	var rec RunRecord
	require.NoError(t, attributevalue.UnmarshalMap(item, &rec))
	return rec
}

type fakeSNS struct {
	published []*sns.PublishInput
	err       error
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, in)
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

type fakeArchive struct {
	rows []runarchive.Row
	err  error
}

func (f *fakeArchive) Write(ctx context.Context, row runarchive.Row, at time.Time) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.rows = append(f.rows, row)
	return "job_runs/dt=" + at.UTC().Format("2006-01-02") + "/job=" + row.JobName + "/run-" + row.RunID + ".parquet", nil
}

var eventTime = time.Date(2026, 10, 18, 10, 15, 0, 0, time.UTC)

func stateEvent(id, job, run, state string, at time.Time) events.CloudWatchEvent {
	detail, _ := json.Marshal(map[string]string{
		"jobName":  job,
		"severity": "INFO",
		"state":    state,
		"jobRunId": run,
		"message":  "Job run " + strings.ToLower(state),
	})
	return events.CloudWatchEvent{
		Version:    "0",
		ID:         id,
		DetailType: DetailTypeStateChange,
		Source:     SourceGlue,
		AccountID:  "123456789012",
		Time:       at,
		Region:     "eu-west-1",
		Detail:     detail,
	}
}

func newTestConsumer(cfg Config) (*Consumer, *fakeDDB, *fakeSNS, *fakeArchive) {
	ddb, pub, arc := newFakeDDB(), &fakeSNS{}, &fakeArchive{}
	return NewConsumer(cfg, Deps{DDB: ddb, SNS: pub, Archive: arc}, nil), ddb, pub, arc
}

var fullConfig = Config{
	RunsTable:       "glue-job-runs",
	DedupeTTL:       168 * time.Hour,
	TopicArn:        "arn:aws:sns:eu-west-1:123456789012:glue-job-alerts",
	NotifyOnSuccess: true,
	Archive:         runarchive.Config{Bucket: "my-glue-job-bucket", Prefix: "job_runs/"},
}

func TestParseStateChange(t *testing.T) {
	sc, err := ParseStateChange(stateEvent("e-1", "cdk-glue-etl-job", "jr_1", "succeeded", eventTime))
	require.NoError(t, err)
	assert.Equal(t, StateChange{
		EventID:  "e-1",
		JobName:  "cdk-glue-etl-job",
		RunID:    "jr_1",
		State:    "SUCCEEDED",
		Message:  "Job run succeeded",
		Severity: "INFO",
		Time:     eventTime,
	}, sc)

	tt := []struct {
		name string
		ev   events.CloudWatchEvent
		err  string
	}{
		{name: "other source", ev: events.CloudWatchEvent{Source: "aws.events", DetailType: "Scheduled Event"}, err: ErrNotStateChange.Error()},
		{name: "missing job", ev: stateEvent("e-2", "", "jr_1", "FAILED", eventTime), err: "missing detail.jobName"},
		{name: "missing run", ev: stateEvent("e-3", "j", "", "FAILED", eventTime), err: "missing detail.jobRunId"},
		{name: "missing state", ev: stateEvent("e-4", "j", "jr", "", eventTime), err: "missing detail.state"},
		{name: "bad detail", ev: events.CloudWatchEvent{ID: "e-5", Source: SourceGlue, DetailType: DetailTypeStateChange, Detail: json.RawMessage(`{nope`)}, err: "not valid json"},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseStateChange(tc.ev)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestHandleTerminalRun(t *testing.T) {
	c, ddb, pub, arc := newTestConsumer(fullConfig)

	out, err := c.Handle(context.Background(), stateEvent("e-1", "cdk-glue-etl-job", "jr_1", "FAILED", eventTime))
	require.NoError(t, err)
	assert.Equal(t, Outcome{
		State:      "FAILED",
		Recorded:   true,
		Notified:   true,
		ArchiveKey: "job_runs/dt=2026-10-18/job=cdk-glue-etl-job/run-jr_1.parquet",
	}, out)

	rec := ddb.run(t, "cdk-glue-etl-job", "jr_1")
	assert.Equal(t, "FAILED", rec.State)
	assert.Equal(t, "2026-10-18T10:15:00Z", rec.EventTime)

	require.Len(t, pub.published, 1)
	assert.Equal(t, "Glue job cdk-glue-etl-job: FAILED", aws.ToString(pub.published[0].Subject))
	assert.Contains(t, aws.ToString(pub.published[0].Message), "Run: jr_1")

	require.Len(t, arc.rows, 1)
	assert.Equal(t, "FAILED", arc.rows[0].State)
}

func TestHandleRunningRecordsOnly(t *testing.T) {
	c, ddb, pub, arc := newTestConsumer(fullConfig)

	out, err := c.Handle(context.Background(), stateEvent("e-1", "cdk-glue-etl-job", "jr_1", "RUNNING", eventTime))
	require.NoError(t, err)
	assert.True(t, out.Recorded)
	assert.False(t, out.Notified)
	assert.Empty(t, out.ArchiveKey)
	assert.Equal(t, "RUNNING", ddb.run(t, "cdk-glue-etl-job", "jr_1").State)
	assert.Empty(t, pub.published)
	assert.Empty(t, arc.rows)
}

func TestHandleDuplicateEvent(t *testing.T) {
	c, _, pub, _ := newTestConsumer(fullConfig)
	ev := stateEvent("e-1", "cdk-glue-etl-job", "jr_1", "SUCCEEDED", eventTime)

	_, err := c.Handle(context.Background(), ev)
	require.NoError(t, err)

	out, err := c.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, Outcome{State: "SUCCEEDED", Skipped: true, Reason: "duplicate"}, out)
	assert.Len(t, pub.published, 1)
}

func TestHandleOutOfOrderEvents(t *testing.T) {
	c, ddb, _, _ := newTestConsumer(fullConfig)

	_, err := c.Handle(context.Background(), stateEvent("e-2", "cdk-glue-etl-job", "jr_1", "SUCCEEDED", eventTime))
	require.NoError(t, err)

	out, err := c.Handle(context.Background(), stateEvent("e-1", "cdk-glue-etl-job", "jr_1", "RUNNING", eventTime.Add(-5*time.Minute)))
	require.NoError(t, err)
	assert.False(t, out.Recorded)
	assert.Equal(t, "SUCCEEDED", ddb.run(t, "cdk-glue-etl-job", "jr_1").State)
}

func TestHandleSameSecondEvents(t *testing.T) {
	c, ddb, _, _ := newTestConsumer(fullConfig)

	_, err := c.Handle(context.Background(), stateEvent("e-1", "cdk-glue-etl-job", "jr_1", "RUNNING", eventTime))
	require.NoError(t, err)
	out, err := c.Handle(context.Background(), stateEvent("e-2", "cdk-glue-etl-job", "jr_1", "SUCCEEDED", eventTime))
	require.NoError(t, err)
	assert.True(t, out.Recorded)

	// RUNNING delivered late, stamped with the same second as SUCCEEDED
	out, err = c.Handle(context.Background(), stateEvent("e-3", "cdk-glue-etl-job", "jr_1", "RUNNING", eventTime))
	require.NoError(t, err)
	assert.False(t, out.Recorded)
	assert.Equal(t, "SUCCEEDED", ddb.run(t, "cdk-glue-etl-job", "jr_1").State)
}

func TestLedgerRecordOrdersSubSecond(t *testing.T) {
	ddb := newFakeDDB()
	l := NewLedger("glue-job-runs", time.Hour, ddb)
	newer := StateChange{JobName: "j", RunID: "jr_1", State: "STOPPING", Time: eventTime.Add(500 * time.Millisecond)}
	older := StateChange{JobName: "j", RunID: "jr_1", State: "STOPPED", Time: eventTime.Add(100 * time.Millisecond)}

	ok, err := l.Record(context.Background(), newer)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Record(context.Background(), older)
	require.NoError(t, err)
	assert.False(t, ok)

	rec := ddb.run(t, "j", "jr_1")
	assert.Equal(t, "STOPPING", rec.State)
	assert.Equal(t, newer.Time.UnixNano(), rec.EventTimeNs)
	assert.Equal(t, 3, rec.StateRank)
}

func TestHandleSkips(t *testing.T) {
	cfg := fullConfig
	cfg.WatchJobs = []string{"cdk-glue-etl-job"}
	c, ddb, _, _ := newTestConsumer(cfg)

	out, err := c.Handle(context.Background(), stateEvent("e-1", "someone-elses-job", "jr_9", "FAILED", eventTime))
	require.NoError(t, err)
	assert.Equal(t, "job not watched", out.Reason)

	out, err = c.Handle(context.Background(), events.CloudWatchEvent{Source: "aws.events", DetailType: "Scheduled Event"})
	require.NoError(t, err)
	assert.True(t, out.Skipped)

	assert.Empty(t, ddb.puts)
}

func TestHandleSuccessNoticesOff(t *testing.T) {
	cfg := fullConfig
	cfg.NotifyOnSuccess = false
	c, _, pub, arc := newTestConsumer(cfg)

	out, err := c.Handle(context.Background(), stateEvent("e-1", "cdk-glue-etl-job", "jr_1", "SUCCEEDED", eventTime))
	require.NoError(t, err)
	assert.False(t, out.Notified)
	assert.Empty(t, pub.published)
	assert.Len(t, arc.rows, 1)
}

func TestHandleFailureReleasesClaim(t *testing.T) {
	c, ddb, pub, _ := newTestConsumer(fullConfig)
	pub.err = errors.New("throttled")
	ev := stateEvent("e-1", "cdk-glue-etl-job", "jr_1", "FAILED", eventTime)

	_, err := c.Handle(context.Background(), ev)
	require.ErrorIs(t, err, pub.err)
	require.Len(t, ddb.deletes, 1)

	pub.err = nil
	out, err := c.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, out.Notified, "redelivery is processed, not dropped as a duplicate")
}

func TestHandleArchiveError(t *testing.T) {
	c, _, _, arc := newTestConsumer(fullConfig)
	arc.err = errors.New("AccessDenied")

	_, err := c.Handle(context.Background(), stateEvent("e-1", "cdk-glue-etl-job", "jr_1", "STOPPED", eventTime))
	assert.ErrorIs(t, err, arc.err)
}

func TestHandleLedgerDisabled(t *testing.T) {
	c := NewConsumer(Config{}, Deps{}, nil)
	out, err := c.Handle(context.Background(), stateEvent("e-1", "cdk-glue-etl-job", "jr_1", "SUCCEEDED", eventTime))
	require.NoError(t, err)
	assert.Equal(t, Outcome{State: "SUCCEEDED"}, out)
}

func TestHandleLedgerError(t *testing.T) {
	c, ddb, _, _ := newTestConsumer(fullConfig)
	ddb.err = errors.New("ProvisionedThroughputExceededException")

	_, err := c.Handle(context.Background(), stateEvent("e-1", "cdk-glue-etl-job", "jr_1", "FAILED", eventTime))
	assert.ErrorIs(t, err, ddb.err)
}

func TestClaimItem(t *testing.T) {
	ddb := newFakeDDB()
	l := NewLedger("glue-job-runs", 2*time.Hour, ddb)
	l.now = func() time.Time { return eventTime }

	dup, err := l.Claim(context.Background(), StateChange{EventID: "e-1", JobName: "j", RunID: "r", State: "FAILED"})
	require.NoError(t, err)
	assert.False(t, dup)

	require.Len(t, ddb.puts, 1)
	in := ddb.puts[0]
	assert.Equal(t, "glue-job-runs", aws.ToString(in.TableName))
	assert.Equal(t, "EVENT#e-1", in.Item["PK"].(*ddbtypes.AttributeValueMemberS).Value)
	assert.Equal(t, "1792325700", in.Item["ExpiresAt"].(*ddbtypes.AttributeValueMemberN).Value)
}

func TestBuildMessageTruncatesSubject(t *testing.T) {
	tt := []struct {
		name    string
		jobName string
	}{
		{name: "ascii", jobName: strings.Repeat("x", 120)},
		{name: "exactly at limit", jobName: strings.Repeat("x", 83)},
		{name: "multi-byte", jobName: strings.Repeat("é", 100)},
		{name: "four-byte", jobName: strings.Repeat("🚀", 97)},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			subject, body := buildMessage(StateChange{JobName: tc.jobName, RunID: "jr", State: "FAILED", Time: eventTime})
			assert.True(t, utf8.ValidString(subject), "subject %q is not valid utf-8", subject)
			assert.Less(t, utf8.RuneCountInString(subject), 100)
			assert.Equal(t, maxSubjectRunes, utf8.RuneCountInString(subject))
			assert.True(t, strings.HasPrefix(subject, "Glue job "))
			assert.Contains(t, body, "Job: "+tc.jobName)
		})
	}

	subject, _ := buildMessage(StateChange{JobName: "cdk-glue-etl-job", State: "FAILED"})
	assert.Equal(t, "Glue job cdk-glue-etl-job: FAILED", subject)
}

func TestConfigFromEnv(t *testing.T) {
	cfg, err := ConfigFromEnv(config.FromMap(map[string]string{
		"RUNS_TABLE":        "glue-job-runs",
		"WATCH_JOB_NAMES":   "cdk-glue-etl-job, other",
		"NOTIFY_TOPIC_ARN":  "arn:aws:sns:eu-west-1:123456789012:t",
		"NOTIFY_ON_SUCCESS": "false",
		"DEDUPE_TTL_HOURS":  "24",
		"ARCHIVE_BUCKET":    "my-glue-job-bucket",
	}))
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.DedupeTTL)
	assert.Equal(t, []string{"cdk-glue-etl-job", "other"}, cfg.WatchJobs)
	assert.False(t, cfg.NotifyOnSuccess)
	assert.True(t, cfg.Archive.Enabled())

	_, err = ConfigFromEnv(config.FromMap(map[string]string{"DEDUPE_TTL_HOURS": "-1"}))
	assert.Error(t, err)
}
