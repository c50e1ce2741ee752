// Package pipeline handles a finished incident clip: compress, upload,
// notify, archive, prune and clean up. Every stage may fail on its own
// without stopping the stages after it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/samber/lo"

	"github.com/showgayaki/camenashi-kun/internal/archive"
	"github.com/showgayaki/camenashi-kun/internal/logging"
	"github.com/showgayaki/camenashi-kun/internal/notify"
	"github.com/showgayaki/camenashi-kun/internal/storage"
)

// Artifact is the evidence of one incident on local disk.
type Artifact struct {
	ID         string
	ImagePath  string
	VideoPath  string
	Label      string
	CapturedAt time.Time
	FPS        float64
	Frames     int
}

type Compressor interface {
	Compress(ctx context.Context, path string) (string, error)
}

type ObjectStore interface {
	Upload(ctx context.Context, localPath, key string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Archiver interface {
	Upload(ctx context.Context, local, remote string) error
	RemoveOlderThan(ctx context.Context, dir string, days int) ([]string, error)
}

type Config struct {
	KeyPrefix     string
	PresignTTL    time.Duration
	ArchiveDir    string
	RetentionDays int
	// Mention asks the notifier to ping the operator.
	Mention bool
}

// Pipeline runs the stages. Compressor, ObjectStore and Archiver may be
// nil, which skips the stages that need them.
type Pipeline struct {
	compressor Compressor
	store      ObjectStore
	archiver   Archiver
	sender     notify.Sender
	cfg        Config
	logger     *slog.Logger
}

func New(compressor Compressor, store ObjectStore, archiver Archiver, sender notify.Sender, cfg Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		compressor: compressor,
		store:      store,
		archiver:   archiver,
		sender:     sender,
		cfg:        cfg,
		logger:     logging.WithComponent(logging.OrDiscard(logger), "pipeline"),
	}
}

// Run executes every stage once and reports how each went. Local files
// are always removed at the end.
func (p *Pipeline) Run(ctx context.Context, a Artifact) Report {
	logger := logging.WithIncident(p.logger, a.ID)
	r := Report{IncidentID: a.ID, Label: a.Label, CapturedAt: a.CapturedAt}
	start := time.Now()

	video := p.compress(ctx, logger, a.VideoPath, &r)
	uploads := p.upload(ctx, logger, a, video, &r)
	links := p.presign(ctx, logger, uploads, &r)
	r.Uploads = uploads
	r.Links = links
	p.notify(ctx, a, uploads, links, &r)
	if p.archive(ctx, logger, video, &r) {
		p.retention(ctx, logger, &r)
	} else {
		r.add(StageRetention, StatusSkipped, "archive did not succeed")
	}
	p.cleanup(logger, []string{video, a.ImagePath}, &r)

	r.Duration = time.Since(start)
	logger.Info("pipeline finished", "failed_stages", r.Failed(), "duration_ms", r.Duration.Milliseconds())
	return r
}

func (p *Pipeline) compress(ctx context.Context, logger *slog.Logger, video string, r *Report) string {
	if p.compressor == nil {
		r.add(StageCompress, StatusSkipped, "disabled")
		return video
	}
	out, err := p.compressor.Compress(ctx, video)
	if err != nil {
		logger.Error("compression failed, keeping original", "path", video, "error", err)
		r.add(StageCompress, StatusFailed, err.Error())
		return video
	}
	r.add(StageCompress, StatusOK, out)
	return out
}

func (p *Pipeline) upload(ctx context.Context, logger *slog.Logger, a Artifact, video string, r *Report) []Upload {
	if p.store == nil {
		r.add(StageUpload, StatusSkipped, "disabled")
		return nil
	}

	files := []string{a.ImagePath, video}
	var uploads []Upload
	var errs []error
	for _, f := range files {
		if f == "" {
			continue
		}
		u := Upload{Path: f, Key: storage.ObjectKey(p.cfg.KeyPrefix, a.CapturedAt, f)}
		if err := p.store.Upload(ctx, f, u.Key); err != nil {
			logger.Error("upload failed", "path", f, "error", err)
			u.Error = err.Error()
			errs = append(errs, err)
		}
		uploads = append(uploads, u)
	}
	r.add(StageUpload, statusOf(errs, len(uploads)), errorsDetail(errs))
	return uploads
}

// presign resolves links for the successful uploads only, so a failed
// upload never turns into a link.
func (p *Pipeline) presign(ctx context.Context, logger *slog.Logger, uploads []Upload, r *Report) []string {
	if p.store == nil {
		r.add(StagePresign, StatusSkipped, "disabled")
		return nil
	}
	var links []string
	var errs []error
	attempted := 0
	for i := range uploads {
		u := &uploads[i]
		if !u.OK() {
			continue
		}
		attempted++
		url, err := p.store.PresignedURL(ctx, u.Key, p.cfg.PresignTTL)
		if err != nil {
			logger.Warn("presign failed", "key", u.Key, "error", err)
			errs = append(errs, err)
			continue
		}
		u.URL = url
		links = append(links, url)
	}
	if attempted == 0 {
		r.add(StagePresign, StatusSkipped, "nothing uploaded")
		return nil
	}
	r.add(StagePresign, statusOf(errs, attempted), errorsDetail(errs))
	return links
}

func (p *Pipeline) notify(ctx context.Context, a Artifact, uploads []Upload, links []string, r *Report) {
	msg := notify.Message{
		Text:     fmt.Sprintf("Detected %s at %s.", a.Label, a.CapturedAt.Format(time.DateTime)),
		Links:    links,
		ImageURL: imageURL(uploads, a.ImagePath),
		Mention:  p.cfg.Mention,
	}
	if a.ImagePath != "" {
		msg.Attachments = []notify.Attachment{{Path: a.ImagePath}}
	}
	res := p.sender.Send(ctx, msg)
	r.Delivery = res
	if res.OK() {
		r.add(StageNotify, StatusOK, res.Channel)
	} else {
		r.add(StageNotify, StatusFailed, res.Channel+": "+res.Detail)
	}
}

// imageURL returns the presigned link of the snapshot, or "" when its
// upload or presign failed.
func imageURL(uploads []Upload, imagePath string) string {
	if imagePath == "" {
		return ""
	}
	u, ok := lo.Find(uploads, func(u Upload) bool { return u.Path == imagePath && u.OK() })
	if !ok {
		return ""
	}
	return u.URL
}

func (p *Pipeline) archive(ctx context.Context, logger *slog.Logger, video string, r *Report) bool {
	if p.archiver == nil {
		r.add(StageArchive, StatusSkipped, "disabled")
		return false
	}
	remote := archive.RemotePath(p.cfg.ArchiveDir, video)
	if err := p.archiver.Upload(ctx, video, remote); err != nil {
		logger.Error("archive upload failed", "remote", remote, "error", err)
		r.add(StageArchive, StatusFailed, err.Error())
		return false
	}
	r.add(StageArchive, StatusOK, remote)
	return true
}

func (p *Pipeline) retention(ctx context.Context, logger *slog.Logger, r *Report) {
	if p.cfg.RetentionDays <= 0 {
		r.add(StageRetention, StatusSkipped, "retention disabled")
		return
	}
	removed, err := p.archiver.RemoveOlderThan(ctx, p.cfg.ArchiveDir, p.cfg.RetentionDays)
	r.Removed = removed
	if err != nil {
		logger.Warn("retention sweep incomplete", "removed", len(removed), "error", err)
		r.add(StageRetention, StatusFailed, err.Error())
		return
	}
	r.add(StageRetention, StatusOK, fmt.Sprintf("%d removed", len(removed)))
}

func (p *Pipeline) cleanup(logger *slog.Logger, paths []string, r *Report) {
	var errs []error
	for _, f := range paths {
		if f == "" {
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove local file", "path", f, "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Debug("removed local file", "path", f)
	}
	if len(errs) > 0 {
		r.add(StageCleanup, StatusFailed, errorsDetail(errs))
		return
	}
	r.add(StageCleanup, StatusOK, "")
}

func statusOf(errs []error, attempted int) Status {
	switch {
	case len(errs) == 0:
		return StatusOK
	case len(errs) < attempted:
		return StatusPartial
	}
	return StatusFailed
}

func errorsDetail(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	return errors.Join(errs...).Error()
}
