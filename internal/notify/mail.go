package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wneessen/go-mail"
)

type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
	Cc       []string
	Subject  string
}

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error
}

// Mail sends alerts over SMTP with STARTTLS.
type Mail struct {
	cfg    MailConfig
	client mailSender
}

func NewMail(cfg MailConfig) (*Mail, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(DefaultUploadTimeout),
	}
	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &Mail{cfg: cfg, client: client}, nil
}

func (m *Mail) Name() string {
	return "mail"
}

func (m *Mail) Send(ctx context.Context, msg Message) DeliveryResult {
	// in-memory attachments are spooled to disk until the message is written
	spool, err := os.MkdirTemp("", "camenashi-mail-")
	if err != nil {
		return Failed(m.Name(), err)
	}
	defer os.RemoveAll(spool)

	out, err := m.build(msg, spool)
	if err != nil {
		return Failed(m.Name(), err)
	}
	if err := m.client.DialAndSendWithContext(ctx, out); err != nil {
		return Failed(m.Name(), fmt.Errorf("smtp send: %w", err))
	}

	target := "To [" + strings.Join(m.cfg.To, ",") + "]"
	if len(m.cfg.Cc) > 0 {
		target += " Cc [" + strings.Join(m.cfg.Cc, ",") + "]"
	}
	return Delivered(m.Name(), "sent mail "+target)
}

func (m *Mail) build(msg Message, spool string) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := out.To(m.cfg.To...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	if len(m.cfg.Cc) > 0 {
		if err := out.Cc(m.cfg.Cc...); err != nil {
			return nil, fmt.Errorf("invalid cc address: %w", err)
		}
	}
	out.Subject(m.cfg.Subject)
	out.SetDate()
	out.SetBodyString(mail.TypeTextPlain, msg.Body())

	for i, a := range msg.Attachments {
		path := a.Path
		if a.Data != nil {
			path = filepath.Join(spool, fmt.Sprintf("%d-%s", i, a.name()))
			if err := os.WriteFile(path, a.Data, 0600); err != nil {
				return nil, fmt.Errorf("spool attachment: %w", err)
			}
		}
		out.AttachFile(path, mail.WithFileName(a.name()))
	}
	return out, nil
}
