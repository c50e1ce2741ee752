// Package notify delivers operator alerts through interchangeable channels
// and routes between a quota-limited primary and an unlimited fallback.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// Timeouts for outbound notification calls.
	DefaultTimeout       = 6 * time.Second
	DefaultUploadTimeout = 30 * time.Second
)

// Level classifies a delivery result for triage.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Attachment is a file sent with a message, read from Path or taken from Data.
type Attachment struct {
	Name string
	Path string
	Data []byte
}

// Open returns the attachment name and content.
func (a Attachment) Open() (string, []byte, error) {
	if a.Data != nil {
		return a.name(), a.Data, nil
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return a.name(), data, nil
}

func (a Attachment) name() string {
	if a.Name != "" {
		return a.Name
	}
	return filepath.Base(a.Path)
}

// Message is one alert.
type Message struct {
	Text        string
	Links       []string
	Attachments []Attachment
	// ImageURL, when set, is a public image shown inline by channels that
	// support it.
	ImageURL string
	// Mention asks channels that support it to ping the operator.
	Mention bool
}

// Body returns Text followed by one link per line.
func (m Message) Body() string {
	if len(m.Links) == 0 {
		return m.Text
	}
	return m.Text + "\n" + strings.Join(m.Links, "\n")
}

// DeliveryResult reports what happened to one Send.
type DeliveryResult struct {
	Channel string `json:"channel"`
	Level   Level  `json:"level"`
	Detail  string `json:"detail"`
}

func (r DeliveryResult) OK() bool {
	return r.Level == LevelInfo
}

func Delivered(channel, detail string) DeliveryResult {
	return DeliveryResult{Channel: channel, Level: LevelInfo, Detail: detail}
}

func Failed(channel string, err error) DeliveryResult {
	return DeliveryResult{Channel: channel, Level: LevelError, Detail: err.Error()}
}

// Sender delivers a message somewhere. Send never retries.
type Sender interface {
	Send(ctx context.Context, msg Message) DeliveryResult
}

// Channel is a named Sender.
type Channel interface {
	Sender
	Name() string
}

// QuotaChannel is a channel with a monthly message quota.
type QuotaChannel interface {
	Channel
	// QuotaUsage returns the messages consumed this month.
	QuotaUsage(ctx context.Context) (int, error)
	// AudienceSize returns how many recipients one push counts against the quota.
	AudienceSize(ctx context.Context) (int, error)
	// Limit returns the monthly quota.
	Limit() int
}

// HTTPError represents a non-2xx response from a channel endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx). The router never
// retries; the classification goes into the log for the operator.
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// do sends req and returns the first 4 KB of a 2xx body, or an *HTTPError.
func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}
