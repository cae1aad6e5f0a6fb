package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
)

const (
	telegramAPI     = "https://api.telegram.org/bot"
	telegramTimeout = 10 * time.Second

	// telegramMaxLength is the Bot API limit for one message
	telegramMaxLength = 4096
)

// TelegramNotifier sends a digest of new events to one Telegram chat
type TelegramNotifier struct {
	botToken   string
	chatID     string
	baseURL    string
	httpClient *http.Client
}

// NewTelegramNotifier creates a notifier posting to chatID as the bot
func NewTelegramNotifier(botToken, chatID string) (*TelegramNotifier, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if chatID == "" {
		return nil, fmt.Errorf("chat ID is required")
	}
	return &TelegramNotifier{
		botToken:   botToken,
		chatID:     chatID,
		baseURL:    telegramAPI,
		httpClient: &http.Client{Timeout: telegramTimeout},
	}, nil
}

// Notify sends the new events as one or more digest messages
func (n *TelegramNotifier) Notify(ctx context.Context, f *feed.Feed, inserted []*event.Canonical) error {
	for i, msg := range formatDigest(f, inserted) {
		if err := n.sendMessage(ctx, msg); err != nil {
			return fmt.Errorf("sending digest part %d: %w", i+1, err)
		}
	}
	logger.Debug("Sent Telegram digest", logger.Fields{"feed": f.Name, "events": len(inserted)})
	return nil
}

// formatDigest renders events as HTML messages within the length limit
func formatDigest(f *feed.Feed, events []*event.Canonical) []string {
	loc, err := time.LoadLocation(f.Zone())
	if err != nil {
		loc = time.UTC
	}

	header := fmt.Sprintf("📬 <b>%s</b>: %d new event%s\n\n", html.EscapeString(f.Name), len(events), pluralize(len(events)))

	var messages []string
	var b strings.Builder
	b.WriteString(header)
	for _, evt := range events {
		line := digestLine(evt, loc, telegramMaxLength-len(header))

		if b.Len()+len(line) > telegramMaxLength && b.Len() > len(header) {
			messages = append(messages, b.String())
			b.Reset()
			b.WriteString(header)
		}
		b.WriteString(line)
	}
	return append(messages, b.String())
}

// Caps, in bytes of escaped HTML, on the parts of a digest line
const (
	maxLinkLength     = 1024
	maxLocationLength = 512
)

// digestLine renders one event in at most budget bytes. Link and location
// are capped and the title is clipped to what is left.
func digestLine(evt *event.Canonical, loc *time.Location, budget int) string {
	var when, where string
	if !evt.StartsAt.IsZero() {
		when = " (" + evt.StartsAt.In(loc).Format("Mon Jan 2, 3:04 PM") + ")"
	}
	if evt.LocationDescription != "" {
		where = " - " + escapeClip(evt.LocationDescription, maxLocationLength)
	}

	linkOpen, linkClose := "", ""
	if href := html.EscapeString(evt.SourceURL); href != "" && len(href) <= maxLinkLength {
		linkOpen, linkClose = `<a href="`+href+`">`, "</a>"
	}

	room := budget - len("• ") - len(linkOpen) - len(linkClose) - len(when) - len(where) - len("\n")
	return "• " + linkOpen + escapeClip(evt.Title, room) + linkClose + when + where + "\n"
}

// escapeClip HTML-escapes s, cutting it on a rune boundary with "..." so
// the result is at most limit bytes.
func escapeClip(s string, limit int) string {
	escaped := html.EscapeString(s)
	if len(escaped) <= limit {
		return escaped
	}
	if limit < len("...") {
		return ""
	}

	var b strings.Builder
	for _, r := range s {
		part := html.EscapeString(string(r))
		if b.Len()+len(part) > limit-len("...") {
			break
		}
		b.WriteString(part)
	}
	return b.String() + "..."
}

func pluralize(count int) string {
	if count == 1 {
		return ""
	}
	return "s"
}

func (n *TelegramNotifier) sendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	url := fmt.Sprintf("%s%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram API error: %s", result.Description)
	}
	return nil
}
