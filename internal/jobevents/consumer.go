// Package jobevents consumes Glue "Job State Change" events from EventBridge:
// it records each run's state, notifies on finished runs and archives them.
package jobevents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"gluetrigger/internal/config"
	"gluetrigger/internal/logger"
	"gluetrigger/internal/runarchive"
	"gluetrigger/internal/trigger"
)

const DefaultDedupeTTLHours int32 = 7 * 24

type Config struct {
	RunsTable       string
	DedupeTTL       time.Duration
	WatchJobs       []string
	TopicArn        string
	NotifyOnSuccess bool
	Archive         runarchive.Config
}

// ConfigFromEnv reads:
//   - RUNS_TABLE (optional; ledger and dedupe are off without it)
//   - DEDUPE_TTL_HOURS (default 168)
//   - WATCH_JOB_NAMES (optional comma list; all jobs when empty)
//   - NOTIFY_TOPIC_ARN (optional)
//   - NOTIFY_ON_SUCCESS (default true)
//   - ARCHIVE_BUCKET, ARCHIVE_PREFIX (optional)
func ConfigFromEnv(env config.Env) (Config, error) {
	ttlHours, err := config.Int32(env, "DEDUPE_TTL_HOURS", DefaultDedupeTTLHours)
	if err != nil {
		return Config{}, err
	}
	onSuccess, err := config.Bool(env, "NOTIFY_ON_SUCCESS", true)
	if err != nil {
		return Config{}, err
	}
	return Config{
		RunsTable:       config.String(env, "RUNS_TABLE", ""),
		DedupeTTL:       time.Duration(ttlHours) * time.Hour,
		WatchJobs:       config.List(env, "WATCH_JOB_NAMES"),
		TopicArn:        config.String(env, "NOTIFY_TOPIC_ARN", ""),
		NotifyOnSuccess: onSuccess,
		Archive:         runarchive.ConfigFromEnv(env),
	}, nil
}

type Archiver interface {
	Write(ctx context.Context, row runarchive.Row, at time.Time) (string, error)
}

// Deps are the AWS clients the consumer talks to. Clients for disabled
// features may be nil.
type Deps struct {
	DDB     DDBClient
	SNS     Publisher
	Archive Archiver
}

type Outcome struct {
	State      string `json:"state,omitempty"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
	Recorded   bool   `json:"recorded"`
	Notified   bool   `json:"notified"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

type Consumer struct {
	watch    map[string]bool
	ledger   *Ledger
	notifier *Notifier
	archive  Archiver
	log      *logger.Logger
}

func NewConsumer(cfg Config, deps Deps, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.Discard()
	}
	c := &Consumer{log: log.WithComponent("jobevents")}
	if len(cfg.WatchJobs) > 0 {
		c.watch = make(map[string]bool, len(cfg.WatchJobs))
		for _, j := range cfg.WatchJobs {
			c.watch[j] = true
		}
	}
	if cfg.RunsTable != "" && deps.DDB != nil {
		c.ledger = NewLedger(cfg.RunsTable, cfg.DedupeTTL, deps.DDB)
	}
	if cfg.TopicArn != "" && deps.SNS != nil {
		c.notifier = NewNotifier(cfg.TopicArn, cfg.NotifyOnSuccess, deps.SNS)
	}
	if cfg.Archive.Enabled() && deps.Archive != nil {
		c.archive = deps.Archive
	}
	return c
}

// Handle processes one event. Errors make EventBridge redeliver it; the
// claim is released first so the redelivery is not dropped as a duplicate.
func (c *Consumer) Handle(ctx context.Context, ev events.CloudWatchEvent) (Outcome, error) {
	log := c.log.FromLambdaContext(ctx)

	sc, err := ParseStateChange(ev)
	if errors.Is(err, ErrNotStateChange) {
		log.Warn("ignoring event", "source", ev.Source, "detail_type", ev.DetailType, "event_id", ev.ID)
		return Outcome{Skipped: true, Reason: "not a job state change"}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	log = log.WithFields(map[string]any{"job_name": sc.JobName, "job_run_id": sc.RunID, "state": sc.State})

	if c.watch != nil && !c.watch[sc.JobName] {
		return Outcome{State: sc.State, Skipped: true, Reason: "job not watched"}, nil
	}

	dup, err := c.ledger.Claim(ctx, sc)
	if err != nil {
		return Outcome{}, err
	}
	if dup {
		log.Info("duplicate event", "event_id", sc.EventID)
		return Outcome{State: sc.State, Skipped: true, Reason: "duplicate"}, nil
	}

	out, err := c.apply(ctx, sc)
	if err != nil {
		if rerr := c.ledger.Release(ctx, sc); rerr != nil {
			log.WithError(rerr).Error("release claim failed")
		}
		return out, err
	}

	log.Info("job state recorded",
		"recorded", out.Recorded,
		"notified", out.Notified,
		"archive_key", out.ArchiveKey,
	)
	return out, nil
}

func (c *Consumer) apply(ctx context.Context, sc StateChange) (Outcome, error) {
	out := Outcome{State: sc.State}

	recorded, err := c.ledger.Record(ctx, sc)
	if err != nil {
		return out, err
	}
	out.Recorded = recorded

	if !trigger.IsTerminalState(sc.State) {
		return out, nil
	}

	if c.notifier.ShouldNotify(sc.State) {
		if err := c.notifier.Notify(ctx, sc); err != nil {
			return out, err
		}
		out.Notified = true
	}

	if c.archive != nil {
		key, err := c.archive.Write(ctx, runarchive.Row{
			JobName:   sc.JobName,
			RunID:     sc.RunID,
			State:     sc.State,
			Message:   sc.Message,
			EventTime: sc.Time.UTC().Format(time.RFC3339),
		}, sc.Time)
		if err != nil {
			return out, fmt.Errorf("archive run %s: %w", sc.RunID, err)
		}
		out.ArchiveKey = key
	}
	return out, nil
}
