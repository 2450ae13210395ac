package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kylemclaren/slowstock/internal/events"
)

// Discord handles Discord webhook notifications
type Discord struct {
	client *http.Client
	url    string
}

// NewDiscord creates a new Discord webhook handler
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    webhookURL,
	}
}

// Name identifies the notifier in logs.
func (d *Discord) Name() string { return "discord" }

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// DiscordPayload represents the webhook payload
type DiscordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// Send posts a lifecycle event to Discord
func (d *Discord) Send(ctx context.Context, e events.Event) error {
	var color int
	switch e.Kind {
	case events.KindApproved:
		color = 0x00FF00 // Green
	case events.KindTimeout:
		color = 0xFF0000 // Red
	default:
		color = 0xFFFF00 // Yellow
	}

	embed := DiscordEmbed{
		Title:       fmt.Sprintf("%s %s", emoji(e.Kind), headline(e)),
		Description: truncate(describe(e), 3500, "\n\n*... (truncated)*"),
		Color:       color,
		Fields: []EmbedField{
			{Name: "SKU", Value: fmt.Sprintf("`%s`", e.SKU), Inline: true},
			{Name: "Plan", Value: orDash(e.Plan), Inline: true},
			{Name: "Owner", Value: orDash(e.Charge), Inline: true},
		},
		Timestamp: e.At.Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: footer},
	}

	if e.Reason != "" {
		embed.Fields = append(embed.Fields, EmbedField{
			Name:   "Reason",
			Value:  truncate(e.Reason, 500, "..."),
			Inline: false,
		})
	}

	payload := DiscordPayload{
		Embeds: []DiscordEmbed{embed},
	}

	return post(ctx, d.client, d.url, payload)
}
