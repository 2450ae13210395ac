package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kylemclaren/slowstock/internal/events"
)

// Slack handles Slack webhook notifications
type Slack struct {
	client *http.Client
	url    string
}

// NewSlack creates a new Slack webhook handler
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    webhookURL,
	}
}

// Name identifies the notifier in logs.
func (s *Slack) Name() string { return "slack" }

// SlackBlock represents a Slack Block Kit block
type SlackBlock struct {
	Type     string         `json:"type"`
	Text     *SlackTextObj  `json:"text,omitempty"`
	Fields   []SlackTextObj `json:"fields,omitempty"`
	Elements []SlackElement `json:"elements,omitempty"`
}

// SlackTextObj represents a Slack text object
type SlackTextObj struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// SlackElement represents a Slack element (for context blocks)
type SlackElement struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackAttachment represents a Slack attachment (for colored sidebar)
type SlackAttachment struct {
	Color  string       `json:"color"`
	Blocks []SlackBlock `json:"blocks"`
}

// SlackPayload represents the webhook payload
type SlackPayload struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// Send posts a lifecycle event to Slack
func (s *Slack) Send(ctx context.Context, e events.Event) error {
	var color string
	switch e.Kind {
	case events.KindApproved:
		color = "#00FF00" // Green
	case events.KindTimeout:
		color = "#FF0000" // Red
	default:
		color = "#FFFF00" // Yellow
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackTextObj{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s %s", emoji(e.Kind), headline(e)),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []SlackTextObj{
				{Type: "mrkdwn", Text: fmt.Sprintf("*SKU:*\n`%s`", e.SKU)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Plan:*\n%s", orDash(e.Plan))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Owner:*\n%s", orDash(e.Charge))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*At:*\n<!date^%d^{date_short} {time}|%s>", e.At.Unix(), e.At.Format(time.RFC3339))},
			},
		},
		{
			Type: "divider",
		},
		{
			Type: "section",
			Text: &SlackTextObj{
				Type: "mrkdwn",
				Text: truncate(convertToSlackMarkdown(describe(e)), 2500, "\n... _(truncated)_"),
			},
		},
	}

	if e.Reason != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackTextObj{
				Type: "mrkdwn",
				Text: fmt.Sprintf(":warning: *Reason:*\n%s", truncate(convertToSlackMarkdown(e.Reason), 500, "...")),
			},
		})
	}

	blocks = append(blocks, SlackBlock{
		Type: "context",
		Elements: []SlackElement{
			{Type: "mrkdwn", Text: footer},
		},
	})

	payload := SlackPayload{
		Text: headline(e),
		Attachments: []SlackAttachment{
			{
				Color:  color,
				Blocks: blocks,
			},
		},
	}

	return post(ctx, s.client, s.url, payload)
}

// convertToSlackMarkdown converts standard markdown to Slack's mrkdwn format
func convertToSlackMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
		}
		if inCodeBlock {
			continue
		}

		// **bold** becomes *bold*
		for strings.Contains(lines[i], "**") {
			lines[i] = strings.Replace(lines[i], "**", "*", 2)
		}

		// [text](url) becomes <url|text>
		for {
			start := strings.Index(lines[i], "[")
			if start == -1 {
				break
			}
			end := strings.Index(lines[i][start:], "](")
			if end == -1 {
				break
			}
			end += start
			urlEnd := strings.Index(lines[i][end+2:], ")")
			if urlEnd == -1 {
				break
			}
			urlEnd += end + 2

			linkText := lines[i][start+1 : end]
			linkURL := lines[i][end+2 : urlEnd]
			lines[i] = lines[i][:start] + fmt.Sprintf("<%s|%s>", linkURL, linkText) + lines[i][urlEnd+1:]
		}

		// Slack has no headers
		if trimmed := strings.TrimSpace(lines[i]); strings.HasPrefix(trimmed, "#") {
			lines[i] = "*" + strings.TrimLeft(trimmed, "# ") + "*"
		}
	}

	return strings.Join(lines, "\n")
}
