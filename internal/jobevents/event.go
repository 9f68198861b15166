package jobevents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/tidwall/gjson"
)

const (
	SourceGlue            = "aws.glue"
	DetailTypeStateChange = "Glue Job State Change"
)

var ErrNotStateChange = errors.New("not a glue job state change event")

// StateChange is the part of a Glue job state change event we act on.
type StateChange struct {
	EventID  string
	JobName  string
	RunID    string
	State    string
	Message  string
	Severity string
	Time     time.Time
}

// ParseStateChange reads the EventBridge envelope and its detail, e.g.
//
//	{"jobName":"cdk-glue-etl-job","severity":"INFO","state":"SUCCEEDED",
//	 "jobRunId":"jr_...","message":"Job run succeeded"}
func ParseStateChange(ev events.CloudWatchEvent) (StateChange, error) {
	if ev.Source != SourceGlue || ev.DetailType != DetailTypeStateChange {
		return StateChange{}, ErrNotStateChange
	}
	if !gjson.ValidBytes(ev.Detail) {
		return StateChange{}, fmt.Errorf("event %s: detail is not valid json", ev.ID)
	}

	d := gjson.ParseBytes(ev.Detail)
	sc := StateChange{
		EventID:  strings.TrimSpace(ev.ID),
		JobName:  strings.TrimSpace(d.Get("jobName").String()),
		RunID:    strings.TrimSpace(d.Get("jobRunId").String()),
		State:    strings.ToUpper(strings.TrimSpace(d.Get("state").String())),
		Message:  d.Get("message").String(),
		Severity: d.Get("severity").String(),
		Time:     ev.Time.UTC(),
	}
	if sc.Time.IsZero() {
		sc.Time = time.Now().UTC()
	}

	if sc.JobName == "" {
		return StateChange{}, fmt.Errorf("event %s: missing detail.jobName", ev.ID)
	}
	if sc.RunID == "" {
		return StateChange{}, fmt.Errorf("event %s: missing detail.jobRunId", ev.ID)
	}
	if sc.State == "" {
		return StateChange{}, fmt.Errorf("event %s: missing detail.state", ev.ID)
	}
	return sc, nil
}
