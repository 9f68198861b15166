package jobevents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"gluetrigger/internal/trigger"
)

type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS wants a subject of fewer than 100 characters.
const maxSubjectRunes = 99

type Notifier struct {
	topicArn  string
	onSuccess bool
	sns       Publisher
}

func NewNotifier(topicArn string, onSuccess bool, client Publisher) *Notifier {
	return &Notifier{topicArn: topicArn, onSuccess: onSuccess, sns: client}
}

func (n *Notifier) Enabled() bool { return n != nil && n.topicArn != "" }

// ShouldNotify is true for terminal states, except SUCCEEDED when success
// notices are off.
func (n *Notifier) ShouldNotify(state string) bool {
	if !n.Enabled() || !trigger.IsTerminalState(state) {
		return false
	}
	if state == "SUCCEEDED" && !n.onSuccess {
		return false
	}
	return true
}

func (n *Notifier) Notify(ctx context.Context, sc StateChange) error {
	subject, body := buildMessage(sc)
	_, err := n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("sns publish %s: %w", sc.RunID, err)
	}
	return nil
}

func buildMessage(sc StateChange) (subject string, body string) {
	subject = fmt.Sprintf("Glue job %s: %s", sc.JobName, sc.State)
	if r := []rune(subject); len(r) > maxSubjectRunes {
		subject = string(r[:maxSubjectRunes])
	}

	lines := []string{
		"Glue Job State Change",
		"",
		fmt.Sprintf("Job: %s", sc.JobName),
		fmt.Sprintf("Run: %s", sc.RunID),
		fmt.Sprintf("State: %s", sc.State),
		fmt.Sprintf("Time: %s", sc.Time.UTC().Format(time.RFC3339)),
	}
	if sc.Severity != "" {
		lines = append(lines, fmt.Sprintf("Severity: %s", sc.Severity))
	}
	if msg := strings.TrimSpace(sc.Message); msg != "" {
		lines = append(lines, "", msg)
	}
	return subject, strings.Join(lines, "\n")
}
