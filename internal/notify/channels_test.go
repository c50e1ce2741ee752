package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/wneessen/go-mail"
)

func TestDiscord_Send(t *testing.T) {
	var payload discordPayload
	var fileName string
	var fileBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		json.Unmarshal([]byte(r.FormValue("payload_json")), &payload)

		f, hdr, err := r.FormFile("files[0]")
		if err != nil {
			t.Errorf("missing files[0]: %v", err)
		} else {
			fileName = hdr.Filename
			fileBody, _ = io.ReadAll(f)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewDiscord(server.URL, "12345", testLogger())
	d.username = func() string { return "🐢camenashi🐢" }

	res := d.Send(context.Background(), Message{
		Text:        "cat detected",
		Links:       []string{"https://example.com/v.mp4"},
		Attachments: []Attachment{{Name: "snap.jpg", Data: []byte("jpeg")}},
		Mention:     true,
	})

	if !res.OK() {
		t.Fatalf("Send() = %+v, want delivered", res)
	}
	if payload.Username != "🐢camenashi🐢" {
		t.Errorf("username = %q", payload.Username)
	}
	if want := "<@12345> cat detected\nhttps://example.com/v.mp4"; payload.Content != want {
		t.Errorf("content = %q, want %q", payload.Content, want)
	}
	if fileName != "snap.jpg" || string(fileBody) != "jpeg" {
		t.Errorf("file = %q (%q)", fileName, fileBody)
	}
}

func TestDiscord_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message": "Cannot send an empty message"}`))
	}))
	defer server.Close()

	res := NewDiscord(server.URL, "", testLogger()).Send(context.Background(), Message{Text: "x"})
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Detail, "HTTP 400") {
		t.Errorf("detail = %q, want HTTP 400", res.Detail)
	}
}

func TestDiscord_UsernameHasEmoji(t *testing.T) {
	d := NewDiscord("http://unused", "", nil)
	name := d.username()
	if !strings.Contains(name, botName) || name == botName {
		t.Errorf("username = %q, want framed bot name", name)
	}
}

func TestLineMessaging_Push(t *testing.T) {
	var push linePushRequest
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/message/push" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&push)
		w.Write([]byte(`{"sentMessages":[]}`))
	}))
	defer server.Close()

	l := NewLineMessaging(server.URL, "line-token", "U123", 200, testLogger())
	res := l.Send(context.Background(), Message{
		Text:     "cat detected",
		Links:    []string{"https://s3/video"},
		ImageURL: "https://s3/image",
	})

	if !res.OK() {
		t.Fatalf("Send() = %+v", res)
	}
	if auth != "Bearer line-token" {
		t.Errorf("auth = %q", auth)
	}
	if push.To != "U123" || len(push.Messages) != 2 {
		t.Fatalf("push = %+v", push)
	}
	if push.Messages[1].Type != "image" || push.Messages[1].OriginalContentURL != "https://s3/image" {
		t.Errorf("image message = %+v", push.Messages[1])
	}
}

func TestLineMessaging_QuotaAndAudience(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/bot/message/quota/consumption":
			w.Write([]byte(`{"totalUsage": 950}`))
		case "/v2/bot/group/C999/members/count":
			w.Write([]byte(`{"count": 60}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	group := NewLineMessaging(server.URL, "t", "C999", 1000, testLogger())

	usage, err := group.QuotaUsage(ctx)
	if err != nil || usage != 950 {
		t.Errorf("QuotaUsage() = %d, %v", usage, err)
	}
	audience, err := group.AudienceSize(ctx)
	if err != nil || audience != 60 {
		t.Errorf("AudienceSize() = %d, %v", audience, err)
	}

	user := NewLineMessaging(server.URL, "t", "U1", 1000, testLogger())
	if n, err := user.AudienceSize(ctx); err != nil || n != 1 {
		t.Errorf("user AudienceSize() = %d, %v, want 1", n, err)
	}
}

func TestLineMessaging_QuotaError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	l := NewLineMessaging(server.URL, "bad", "U1", 1000, testLogger())
	if _, err := l.QuotaUsage(context.Background()); err == nil {
		t.Error("expected error for 401")
	}
}

func TestLineNotify_Send(t *testing.T) {
	var message, auth, imageName string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		r.ParseMultipartForm(1 << 20)
		message = r.FormValue("message")
		if _, hdr, err := r.FormFile("imageFile"); err == nil {
			imageName = hdr.Filename
		}
		w.Write([]byte(`{"status":200,"message":"ok"}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "black.jpg")
	os.WriteFile(path, []byte("jpeg"), 0644)

	res := NewLineNotify(server.URL, "notify-token").Send(context.Background(), Message{
		Text:        "feed degraded",
		Attachments: []Attachment{{Path: path}},
	})
	if !res.OK() {
		t.Fatalf("Send() = %+v", res)
	}
	if auth != "Bearer notify-token" || message != "feed degraded" || imageName != "black.jpg" {
		t.Errorf("auth=%q message=%q image=%q", auth, message, imageName)
	}
}

type fakeMailSender struct {
	msgs []*mail.Msg
	err  error
}

func (f *fakeMailSender) DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func TestMail_Send(t *testing.T) {
	sender := &fakeMailSender{}
	m := &Mail{
		cfg: MailConfig{
			From:    "cam@example.com",
			To:      []string{"owner@example.com"},
			Cc:      []string{"family@example.com"},
			Subject: "camenashi",
		},
		client: sender,
	}

	res := m.Send(context.Background(), Message{Text: "cat detected", Links: []string{"https://v"}})
	if !res.OK() {
		t.Fatalf("Send() = %+v", res)
	}
	if !strings.Contains(res.Detail, "Cc [family@example.com]") {
		t.Errorf("detail = %q", res.Detail)
	}
	if len(sender.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.msgs))
	}

	var raw strings.Builder
	if _, err := sender.msgs[0].WriteTo(&raw); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	for _, want := range []string{"Subject: camenashi", "owner@example.com", "family@example.com"} {
		if !strings.Contains(raw.String(), want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestMail_InvalidAddress(t *testing.T) {
	m := &Mail{cfg: MailConfig{From: "not an address", To: []string{"a@b.c"}}, client: &fakeMailSender{}}
	if res := m.Send(context.Background(), Message{Text: "x"}); res.OK() {
		t.Error("expected failure for invalid from address")
	}
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool   { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type fakeMQTTClient struct {
	mqtt.Client
	mu       sync.Mutex
	topic    string
	qos      byte
	payload  []byte
	tokenErr error
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic, c.qos = topic, qos
	c.payload, _ = payload.([]byte)
	return newFakeToken(c.tokenErr)
}

func TestMQTT_Send(t *testing.T) {
	client := &fakeMQTTClient{}
	m := NewMQTT(client, "camenashi/alerts", testLogger())
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	res := m.Send(context.Background(), Message{
		Text:        "cat detected",
		Links:       []string{"https://v"},
		Attachments: []Attachment{{Path: "/tmp/snap.jpg"}},
	})
	if !res.OK() {
		t.Fatalf("Send() = %+v", res)
	}
	if client.topic != "camenashi/alerts" || client.qos != 1 {
		t.Errorf("topic=%q qos=%d", client.topic, client.qos)
	}

	var alert mqttAlert
	if err := json.Unmarshal(client.payload, &alert); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if alert.Text != "cat detected" || len(alert.Links) != 1 || alert.Attachments[0] != "snap.jpg" {
		t.Errorf("alert = %+v", alert)
	}
}

func TestMQTT_PublishError(t *testing.T) {
	client := &fakeMQTTClient{tokenErr: io.ErrClosedPipe}
	res := NewMQTT(client, "t", nil).Send(context.Background(), Message{Text: "x"})
	if res.OK() {
		t.Error("expected failure")
	}
}
