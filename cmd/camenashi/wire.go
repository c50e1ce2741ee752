package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/showgayaki/camenashi-kun/internal/archive"
	"github.com/showgayaki/camenashi-kun/internal/compress"
	"github.com/showgayaki/camenashi-kun/internal/config"
	"github.com/showgayaki/camenashi-kun/internal/db"
	"github.com/showgayaki/camenashi-kun/internal/events"
	"github.com/showgayaki/camenashi-kun/internal/flags"
	"github.com/showgayaki/camenashi-kun/internal/notify"
	"github.com/showgayaki/camenashi-kun/internal/pipeline"
	"github.com/showgayaki/camenashi-kun/internal/proc"
	"github.com/showgayaki/camenashi-kun/internal/storage"
)

// openDB opens the flag database named by the config.
func openDB(cfg *config.Config, logger *slog.Logger) (*db.DB, error) {
	if cfg.DB.Driver == db.DriverPostgres {
		if cfg.DB.DSN == "" {
			return nil, errors.New("db.dsn is required for the postgres driver")
		}
		return db.Open(db.DriverPostgres, cfg.DB.DSN, logger)
	}
	path := cfg.DBPath()
	if cfg.DB.DSN != "" {
		path = cfg.DB.DSN
	}
	return db.New(path, logger)
}

// closer collects cleanup funcs for resources opened during wiring.
type closer []func()

func (c *closer) add(fn func()) { *c = append(*c, fn) }

func (c closer) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func buildChannel(name string, cfg *config.Config, logger *slog.Logger, cl *closer) (notify.Channel, error) {
	n := cfg.Notify
	switch name {
	case config.ChannelLine:
		if n.Line.AccessToken == "" || n.Line.To == "" {
			return nil, errors.New("notify.line.access_token and notify.line.to are required")
		}
		return notify.NewLineMessaging(n.Line.BaseURL, n.Line.AccessToken, n.Line.To, n.Line.Limit, logger), nil
	case config.ChannelLineNotify:
		if n.LineNotify.Token == "" {
			return nil, errors.New("notify.line_notify.token is required")
		}
		return notify.NewLineNotify(n.LineNotify.URL, n.LineNotify.Token), nil
	case config.ChannelDiscord:
		if n.Discord.WebhookURL == "" {
			return nil, errors.New("notify.discord.webhook_url is required")
		}
		return notify.NewDiscord(n.Discord.WebhookURL, n.MentionID, logger), nil
	case config.ChannelMail:
		m, err := notify.NewMail(notify.MailConfig{
			Host:     n.Mail.Host,
			Port:     n.Mail.Port,
			User:     n.Mail.User,
			Password: n.Mail.Password,
			From:     n.Mail.From,
			To:       n.Mail.To,
			Cc:       n.Mail.Cc,
			Subject:  n.Mail.Subject,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.ChannelMQTT:
		m, err := notify.DialMQTT(notify.MQTTConfig{
			Broker:   n.MQTT.Broker,
			ClientID: n.MQTT.ClientID,
			Topic:    n.MQTT.Topic,
			Username: n.MQTT.Username,
			Password: n.MQTT.Password,
		}, logger)
		if err != nil {
			return nil, err
		}
		cl.add(m.Close)
		return m, nil
	}
	return nil, fmt.Errorf("unknown notification channel %q", name)
}

// buildNotifier wires the primary and optional fallback channel into a router.
func buildNotifier(cfg *config.Config, store flags.Store, logger *slog.Logger, cl *closer) (*notify.Router, error) {
	primary, err := buildChannel(cfg.Notify.Primary, cfg, logger, cl)
	if err != nil {
		return nil, fmt.Errorf("notify.primary: %w", err)
	}
	var fallback notify.Channel
	if cfg.Notify.Fallback != "" {
		fallback, err = buildChannel(cfg.Notify.Fallback, cfg, logger, cl)
		if err != nil {
			return nil, fmt.Errorf("notify.fallback: %w", err)
		}
	}
	logger.Info("notifications configured", "primary", primary.Name(), "fallback", cfg.Notify.Fallback)
	return notify.NewRouter(primary, fallback, store, logger), nil
}

func buildArchiver(cfg *config.Config, logger *slog.Logger) (*archive.SFTPArchiver, error) {
	a := cfg.Archive
	return archive.NewSFTP(archive.Options{
		Host:       a.Host,
		Port:       a.Port,
		User:       a.User,
		Password:   a.Password,
		KeyFile:    a.KeyFile,
		KnownHosts: a.KnownHosts,
		Timeout:    30 * time.Second,
	}, logger)
}

// buildPipeline wires the optional stages. A stage whose config is absent
// is left nil and reported as skipped.
func buildPipeline(ctx context.Context, cfg *config.Config, sender notify.Sender, logger *slog.Logger) (*pipeline.Pipeline, error) {
	var compressor pipeline.Compressor
	if cfg.Compress.Enabled {
		compressor = compress.New(cfg.Compress.FFmpeg, cfg.Compress.Options, cfg.CompressTimeout(), logger)
	}

	var store pipeline.ObjectStore
	if cfg.Storage.Enabled() {
		s := cfg.Storage
		ms, err := storage.NewMinio(storage.Options{
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Region:    s.Region,
			Bucket:    s.Bucket,
			Secure:    s.Secure,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create object store: %w", err)
		}
		if err := ms.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		store = ms
	}

	var archiver pipeline.Archiver
	if cfg.Archive.Enabled() {
		a, err := buildArchiver(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure archive: %w", err)
		}
		archiver = a
	}

	return pipeline.New(compressor, store, archiver, sender, pipeline.Config{
		KeyPrefix:     cfg.Storage.Prefix,
		PresignTTL:    cfg.PresignExpiry(),
		ArchiveDir:    cfg.Archive.UploadDir,
		RetentionDays: cfg.Archive.RetentionDays,
		Mention:       cfg.Notify.MentionID != "",
	}, logger), nil
}

func buildEvents(cfg *config.Config, logger *slog.Logger, cl *closer) (events.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.Nop{}, nil
	}
	p, err := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, "camenashi", logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to kafka: %w", err)
	}
	cl.add(func() {
		if err := p.Close(); err != nil {
			logger.Warn("failed to close kafka producer", "error", err)
		}
	})
	return p, nil
}

// newDoctor probes the binaries the configured stages shell out to.
func newDoctor(cfg *config.Config, logger *slog.Logger) *proc.CachedDoctor {
	bins := map[string][]string{
		"detector": {cfg.Detector.Command, "--version"},
	}
	if cfg.Recording.Encoder == "ffmpeg" {
		bins["ffmpeg"] = []string{cfg.Recording.FFmpeg, "-version"}
	}
	if cfg.Compress.Enabled {
		bins["compress"] = []string{cfg.Compress.FFmpeg, "-version"}
	}
	return proc.NewCachedDoctor(&proc.ExecProber{Binaries: bins}, logger)
}
