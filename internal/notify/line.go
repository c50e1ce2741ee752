package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/showgayaki/camenashi-kun/internal/logging"
)

// LineMessaging pushes through the LINE Messaging API, which meters
// pushes per recipient against a monthly quota.
type LineMessaging struct {
	baseURL    string
	token      string
	to         string
	limit      int
	httpClient *http.Client
	logger     *slog.Logger
}

func NewLineMessaging(baseURL, token, to string, limit int, logger *slog.Logger) *LineMessaging {
	return &LineMessaging{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		to:         to,
		limit:      limit,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logging.OrDiscard(logger),
	}
}

var _ QuotaChannel = (*LineMessaging)(nil)

func (l *LineMessaging) Name() string {
	return "line"
}

func (l *LineMessaging) Limit() int {
	return l.limit
}

type lineMessage struct {
	Type               string `json:"type"`
	Text               string `json:"text,omitempty"`
	OriginalContentURL string `json:"originalContentUrl,omitempty"`
	PreviewImageURL    string `json:"previewImageUrl,omitempty"`
}

type linePushRequest struct {
	To       string        `json:"to"`
	Messages []lineMessage `json:"messages"`
}

func (l *LineMessaging) Send(ctx context.Context, msg Message) DeliveryResult {
	push := linePushRequest{
		To:       l.to,
		Messages: []lineMessage{{Type: "text", Text: msg.Body()}},
	}
	// image messages must be https URLs
	if strings.HasPrefix(msg.ImageURL, "https://") {
		push.Messages = append(push.Messages, lineMessage{
			Type:               "image",
			OriginalContentURL: msg.ImageURL,
			PreviewImageURL:    msg.ImageURL,
		})
	}
	if len(msg.Attachments) > 0 {
		l.logger.Debug("line push does not carry attachments", "dropped", len(msg.Attachments))
	}

	body, err := json.Marshal(push)
	if err != nil {
		return Failed(l.Name(), fmt.Errorf("marshal push: %w", err))
	}

	req, err := l.newRequest(ctx, http.MethodPost, "/v2/bot/message/push", body)
	if err != nil {
		return Failed(l.Name(), err)
	}
	if _, err := do(l.httpClient, req); err != nil {
		return Failed(l.Name(), err)
	}
	return Delivered(l.Name(), fmt.Sprintf("pushed %d message(s)", len(push.Messages)))
}

func (l *LineMessaging) QuotaUsage(ctx context.Context) (int, error) {
	var out struct {
		TotalUsage int `json:"totalUsage"`
	}
	if err := l.getJSON(ctx, "/v2/bot/message/quota/consumption", &out); err != nil {
		return 0, fmt.Errorf("quota consumption: %w", err)
	}
	return out.TotalUsage, nil
}

// AudienceSize is the member count for a group target and 1 for a user.
func (l *LineMessaging) AudienceSize(ctx context.Context) (int, error) {
	if !strings.HasPrefix(l.to, "C") {
		return 1, nil
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := l.getJSON(ctx, "/v2/bot/group/"+l.to+"/members/count", &out); err != nil {
		return 0, fmt.Errorf("group member count: %w", err)
	}
	return out.Count, nil
}

func (l *LineMessaging) getJSON(ctx context.Context, path string, out any) error {
	req, err := l.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	body, err := do(l.httpClient, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (l *LineMessaging) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
