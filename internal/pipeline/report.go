package pipeline

import (
	"time"

	"github.com/samber/lo"

	"github.com/showgayaki/camenashi-kun/internal/notify"
)

const (
	StageCompress  = "compress"
	StageUpload    = "upload"
	StagePresign   = "presign"
	StageNotify    = "notify"
	StageArchive   = "archive"
	StageRetention = "retention"
	StageCleanup   = "cleanup"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

type StageResult struct {
	Stage  string `json:"stage"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Upload is one file sent to object storage.
type Upload struct {
	Path  string `json:"path"`
	Key   string `json:"key"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

func (u Upload) OK() bool {
	return u.Error == ""
}

// Report is the outcome of one pipeline run.
type Report struct {
	IncidentID string                `json:"incident_id"`
	Label      string                `json:"label"`
	CapturedAt time.Time             `json:"captured_at"`
	Stages     []StageResult         `json:"stages"`
	Uploads    []Upload              `json:"uploads,omitempty"`
	Links      []string              `json:"links,omitempty"`
	Removed    []string              `json:"removed,omitempty"`
	Delivery   notify.DeliveryResult `json:"delivery"`
	Duration   time.Duration         `json:"duration_ns"`
}

func (r *Report) add(stage string, status Status, detail string) {
	r.Stages = append(r.Stages, StageResult{Stage: stage, Status: status, Detail: detail})
}

// Stage returns the result of the named stage.
func (r Report) Stage(name string) (StageResult, bool) {
	return lo.Find(r.Stages, func(s StageResult) bool { return s.Stage == name })
}

// Failed lists the stages that did not fully succeed.
func (r Report) Failed() []string {
	return lo.FilterMap(r.Stages, func(s StageResult, _ int) (string, bool) {
		return s.Stage, s.Status == StatusFailed || s.Status == StatusPartial
	})
}
