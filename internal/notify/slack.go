package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxListedFailures caps the failed items spelled out in one message
const maxListedFailures = 10

// SlackNotifier posts run summaries to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment holds the run summary
type SlackAttachment struct {
	Color    string       `json:"color"`
	Title    string       `json:"title,omitempty"`
	Text     string       `json:"text,omitempty"`
	Fields   []SlackField `json:"fields,omitempty"`
	Footer   string       `json:"footer,omitempty"`
	MrkdwnIn []string     `json:"mrkdwn_in,omitempty"`
}

// SlackField is one short key/value cell of an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a notifier for webhookURL. An empty URL disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SlackColor maps a notification type to an attachment color
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// BuildSlackMessage lays a notification out as a webhook payload.
// Run counts become attachment fields and failed items are listed in the text.
func BuildSlackMessage(n Notification) SlackMessage {
	att := SlackAttachment{
		Color:  SlackColor(n.Type),
		Text:   n.Message,
		Footer: "oa-pipeline",
	}
	if n.RunID != "" {
		att.Title = "Run " + n.RunID
	}

	if s := n.Summary; s != nil {
		att.Fields = []SlackField{
			{Title: "Succeeded", Value: strconv.Itoa(s.Succeeded), Short: true},
			{Title: "Failed", Value: strconv.Itoa(s.Failed), Short: true},
			{Title: "Processed", Value: s.Progress(), Short: true},
			{Title: "Phase", Value: string(s.Phase), Short: true},
		}
		if n.RunID != "" {
			att.Fields = append(att.Fields, SlackField{Title: "Run ID", Value: n.RunID})
		}
		if len(s.Failures) > 0 {
			att.Text = failureList(s)
			att.MrkdwnIn = []string{"text"}
		}
	}

	return SlackMessage{
		Text:        n.Title + ": " + n.Message,
		Attachments: []SlackAttachment{att},
	}
}

func failureList(s *Summary) string {
	var b strings.Builder
	b.WriteString("*Failed questions*")
	for i, o := range s.Failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "\n… and %d more", len(s.Failures)-maxListedFailures)
			break
		}
		fmt.Fprintf(&b, "\n• `%s`: %s", o.ItemID, o.Message)
	}
	return b.String()
}

// Send posts the notification to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(BuildSlackMessage(n))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
