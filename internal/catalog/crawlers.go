package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
)

type CrawlerClient interface {
	StartCrawler(ctx context.Context, params *glue.StartCrawlerInput, optFns ...func(*glue.Options)) (*glue.StartCrawlerOutput, error)
	GetCrawler(ctx context.Context, params *glue.GetCrawlerInput, optFns ...func(*glue.Options)) (*glue.GetCrawlerOutput, error)
}

const (
	CrawlerStarted = "started"
	CrawlerRunning = "running"
)

type CrawlerResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// StartCrawlers starts each crawler in order. A crawler that is already
// running is reported, not treated as a failure. The first other error
// stops the loop.
func StartCrawlers(ctx context.Context, c CrawlerClient, names []string) ([]CrawlerResult, error) {
	results := make([]CrawlerResult, 0, len(names))
	for _, name := range names {
		_, err := c.StartCrawler(ctx, &glue.StartCrawlerInput{Name: aws.String(name)})
		if err != nil {
			var running *gluetypes.CrawlerRunningException
			if errors.As(err, &running) {
				results = append(results, CrawlerResult{Name: name, Status: CrawlerRunning})
				continue
			}
			return results, fmt.Errorf("glue StartCrawler %s: %w", name, err)
		}
		results = append(results, CrawlerResult{Name: name, Status: CrawlerStarted})
	}
	return results, nil
}

// CrawlerError is a crawler whose last crawl did not succeed.
type CrawlerError struct {
	Name   string
	Status string
	Reason string
}

func (e *CrawlerError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("crawler %s: last crawl %s", e.Name, e.Status)
	}
	return fmt.Sprintf("crawler %s: last crawl %s: %s", e.Name, e.Status, e.Reason)
}

// WaitForCrawlers polls GetCrawler until every crawler is READY again.
// A crawler whose last crawl FAILED or was CANCELLED stops the wait.
func WaitForCrawlers(ctx context.Context, c CrawlerClient, names []string, maxWait, poll time.Duration) error {
	if maxWait == 0 {
		maxWait = 10 * time.Minute
	}
	if poll == 0 {
		poll = 10 * time.Second
	}

	pending := append([]string(nil), names...)
	deadline := time.Now().Add(maxWait)
	for {
		var still []string
		for _, name := range pending {
			out, err := c.GetCrawler(ctx, &glue.GetCrawlerInput{Name: aws.String(name)})
			if err != nil {
				return fmt.Errorf("glue GetCrawler %s: %w", name, err)
			}
			cr := out.Crawler
			if cr == nil {
				return fmt.Errorf("glue GetCrawler %s: empty crawler", name)
			}
			if cr.State != gluetypes.CrawlerStateReady {
				still = append(still, name)
				continue
			}
			if lc := cr.LastCrawl; lc != nil && lc.Status != gluetypes.LastCrawlStatusSucceeded {
				return &CrawlerError{Name: name, Status: string(lc.Status), Reason: aws.ToString(lc.ErrorMessage)}
			}
		}
		if len(still) == 0 {
			return nil
		}
		pending = still

		if time.Now().Add(poll).After(deadline) {
			return fmt.Errorf("crawlers still running after %s: %s", maxWait, strings.Join(pending, ","))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}
