package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const slackFooter = "Batch Orchestrator"

// SlackNotifier posts notifications to a Slack incoming webhook. Send runs on
// the engine goroutine, so the client timeout is kept short.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color    string       `json:"color"`
	Fallback string       `json:"fallback"`
	Text     string       `json:"text,omitempty"`
	Fields   []slackField `json:"fields,omitempty"`
	Footer   string       `json:"footer"`
	Ts       int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a Slack notifier. An empty URL disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func slackColor(t NotificationType) string {
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

func buildSlackPayload(n Notification) slackPayload {
	att := slackAttachment{
		Color:    slackColor(n.Type),
		Fallback: n.Title,
		Text:     n.Message,
		Footer:   slackFooter,
	}
	if !n.At.IsZero() {
		att.Ts = n.At.Unix()
	}
	if n.RunID != "" {
		att.Fields = append(att.Fields, slackField{Title: "Run", Value: n.RunID, Short: true})
	}
	if n.BatchID > 0 {
		att.Fields = append(att.Fields, slackField{Title: "Batch", Value: strconv.Itoa(n.BatchID), Short: true})
	}
	if n.TaskID != "" {
		att.Fields = append(att.Fields, slackField{Title: "Task", Value: n.TaskID, Short: true})
	}
	return slackPayload{Text: n.Title, Attachments: []slackAttachment{att}}
}

// Send posts n to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildSlackPayload(n))
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
