package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
)

// LineNotify posts to a LINE Notify token. One image may be attached.
type LineNotify struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewLineNotify(url, token string) *LineNotify {
	return &LineNotify{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: DefaultUploadTimeout},
	}
}

func (n *LineNotify) Name() string {
	return "line_notify"
}

func (n *LineNotify) Send(ctx context.Context, msg Message) DeliveryResult {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("message", msg.Body()); err != nil {
		return Failed(n.Name(), err)
	}
	if len(msg.Attachments) > 0 {
		name, data, err := msg.Attachments[0].Open()
		if err != nil {
			return Failed(n.Name(), err)
		}
		fw, err := mw.CreateFormFile("imageFile", name)
		if err != nil {
			return Failed(n.Name(), err)
		}
		if _, err := fw.Write(data); err != nil {
			return Failed(n.Name(), err)
		}
	}
	if err := mw.Close(); err != nil {
		return Failed(n.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, &body)
	if err != nil {
		return Failed(n.Name(), fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if _, err := do(n.httpClient, req); err != nil {
		return Failed(n.Name(), err)
	}
	return Delivered(n.Name(), "notify accepted")
}
