// Package catalog keeps the Glue Data Catalog in step with the data the ETL
// job writes: it starts the crawlers and repairs Athena partitions.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"gluetrigger/internal/config"
	"gluetrigger/internal/logger"
)

type Config struct {
	Crawlers  []string
	Database  string
	Table     string
	Output    string
	Workgroup string
	MaxWait   time.Duration

	// CrawlerWait bounds how long the repair waits for the crawlers.
	CrawlerWait time.Duration
	CrawlerPoll time.Duration
}

// ConfigFromEnv reads:
//   - CRAWLER_NAMES (comma list, e.g. "s3-csv-crawler,s3-parquet-crawler")
//   - ATHENA_TABLE; when set, ATHENA_DATABASE and ATHENA_OUTPUT are required
//   - ATHENA_WORKGROUP (default "primary")
//   - ATHENA_MAX_WAIT (default 60s)
//   - CRAWLER_MAX_WAIT (default 10m), CRAWLER_POLL_INTERVAL (default 10s)
func ConfigFromEnv(env config.Env) (Config, error) {
	maxWait, err := config.Duration(env, "ATHENA_MAX_WAIT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	crawlerWait, err := config.Duration(env, "CRAWLER_MAX_WAIT", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}
	crawlerPoll, err := config.Duration(env, "CRAWLER_POLL_INTERVAL", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Crawlers:    config.List(env, "CRAWLER_NAMES"),
		Table:       config.String(env, "ATHENA_TABLE", ""),
		Workgroup:   config.String(env, "ATHENA_WORKGROUP", "primary"),
		MaxWait:     maxWait,
		CrawlerWait: crawlerWait,
		CrawlerPoll: crawlerPoll,
	}

	if cfg.Table != "" {
		if cfg.Database, err = config.Required(env, "ATHENA_DATABASE"); err != nil {
			return Config{}, err
		}
		if cfg.Output, err = config.Required(env, "ATHENA_OUTPUT"); err != nil {
			return Config{}, err
		}
		if !strings.HasPrefix(cfg.Output, "s3://") {
			return Config{}, &config.Error{Key: "ATHENA_OUTPUT", Reason: "must start with s3://"}
		}
		if !tableNameRE.MatchString(cfg.Table) {
			return Config{}, &config.Error{Key: "ATHENA_TABLE", Reason: fmt.Sprintf("%q is not a plain table name", cfg.Table)}
		}
	}

	if len(cfg.Crawlers) == 0 && cfg.Table == "" {
		return Config{}, &config.Error{Key: "CRAWLER_NAMES", Reason: "set CRAWLER_NAMES and/or ATHENA_TABLE"}
	}
	return cfg, nil
}

type GlueClient interface {
	CrawlerClient
	TableClient
}

type RefreshResult struct {
	OK       bool            `json:"ok"`
	Crawlers []CrawlerResult `json:"crawlers,omitempty"`
	Repair   *RepairResult   `json:"repair,omitempty"`
	Schema   *TableSchema    `json:"schema,omitempty"`
}

type Refresher struct {
	cfg    Config
	glue   GlueClient
	athena AthenaClient
	log    *logger.Logger
}

func NewRefresher(cfg Config, g GlueClient, a AthenaClient, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.Discard()
	}
	return &Refresher{cfg: cfg, glue: g, athena: a, log: log.WithComponent("catalog")}
}

// Handle is triggered by an EventBridge schedule; the event body is unused.
// Crawlers are started first. When a table is configured the partition
// repair runs only after every crawler is READY again.
func (r *Refresher) Handle(ctx context.Context, _ events.CloudWatchEvent) (RefreshResult, error) {
	log := r.log.FromLambdaContext(ctx)
	var res RefreshResult

	if len(r.cfg.Crawlers) > 0 {
		crawlers, err := StartCrawlers(ctx, r.glue, r.cfg.Crawlers)
		res.Crawlers = crawlers
		if err != nil {
			return res, err
		}
		for _, c := range crawlers {
			log.Info("crawler", "name", c.Name, "status", c.Status)
		}
	}

	if r.cfg.Table != "" {
		if len(r.cfg.Crawlers) > 0 {
			if err := WaitForCrawlers(ctx, r.glue, r.cfg.Crawlers, r.cfg.CrawlerWait, r.cfg.CrawlerPoll); err != nil {
				return res, err
			}
			log.Info("crawlers finished", "crawlers", r.cfg.Crawlers)
		}

		repair, err := RepairPartitions(ctx, r.athena, r.cfg.Table, AthenaOptions{
			Database:       r.cfg.Database,
			Workgroup:      r.cfg.Workgroup,
			OutputLocation: r.cfg.Output,
			MaxWait:        r.cfg.MaxWait,
		})
		if err != nil {
			return res, err
		}
		res.Repair = repair
		log.Info("partitions repaired", "table", r.cfg.Table, "query_id", repair.QueryID, "exec_ms", repair.ExecutionMs)

		schema, err := LoadTableSchema(ctx, r.glue, r.cfg.Database, r.cfg.Table)
		if err != nil {
			log.WithError(err).Warn("table schema unavailable")
		} else {
			res.Schema = schema
		}
	}

	res.OK = true
	return res, nil
}
