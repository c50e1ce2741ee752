package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/samber/lo"

	"github.com/showgayaki/camenashi-kun/internal/logging"
)

const botName = "camenashi"

// Consecutive webhook posts under the same username drop the avatar, so
// every post gets a username framed by two random emoji.
var emojis = []string{
	"🐢", "🐸", "🦎", "🐊", "🐍", "🐲", "🦕", "🐳", "🐬", "🐟",
	"🐙", "🦀", "🐌", "🦋", "🐝", "🐞", "🌵", "🌻", "🍀", "🍄",
	"🍙", "🍣", "🍡", "🍵", "⭐", "🌙", "⛄", "🔔", "🎈", "📷",
}

// Discord posts to a webhook.
type Discord struct {
	webhookURL string
	mentionID  string
	httpClient *http.Client
	logger     *slog.Logger
	username   func() string
}

func NewDiscord(webhookURL, mentionID string, logger *slog.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		mentionID:  mentionID,
		httpClient: &http.Client{Timeout: DefaultUploadTimeout},
		logger:     logging.OrDiscard(logger),
		username: func() string {
			e := lo.Samples(emojis, 2)
			return e[0] + botName + e[1]
		},
	}
}

func (d *Discord) Name() string {
	return "discord"
}

type discordPayload struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

func (d *Discord) Send(ctx context.Context, msg Message) DeliveryResult {
	content := msg.Body()
	if msg.Mention && d.mentionID != "" {
		content = fmt.Sprintf("<@%s> %s", d.mentionID, content)
	}

	payload, err := json.Marshal(discordPayload{Username: d.username(), Content: content})
	if err != nil {
		return Failed(d.Name(), fmt.Errorf("marshal payload: %w", err))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("payload_json", string(payload)); err != nil {
		return Failed(d.Name(), err)
	}
	for i, a := range msg.Attachments {
		name, data, err := a.Open()
		if err != nil {
			return Failed(d.Name(), err)
		}
		fw, err := mw.CreateFormFile(fmt.Sprintf("files[%d]", i), name)
		if err != nil {
			return Failed(d.Name(), err)
		}
		if _, err := fw.Write(data); err != nil {
			return Failed(d.Name(), err)
		}
	}
	if err := mw.Close(); err != nil {
		return Failed(d.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, &body)
	if err != nil {
		return Failed(d.Name(), fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if len(msg.Attachments) > 0 {
		d.logger.Info("posting files to discord", "count", len(msg.Attachments))
	}

	if _, err := do(d.httpClient, req); err != nil {
		return Failed(d.Name(), err)
	}
	return Delivered(d.Name(), "webhook accepted")
}
