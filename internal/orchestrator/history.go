package orchestrator

import (
	"sync"
	"time"

	"github.com/showgayaki/camenashi-kun/internal/pipeline"
)

// Incident is one finished or discarded incident, kept for the status API.
type Incident struct {
	ID          string           `json:"id"`
	Label       string           `json:"label"`
	Outcome     string           `json:"outcome"`
	ConfirmedAt time.Time        `json:"confirmed_at,omitempty"`
	EndedAt     time.Time        `json:"ended_at"`
	Frames      int              `json:"frames,omitempty"`
	Report      *pipeline.Report `json:"report,omitempty"`
}

// History is a fixed-size, in-memory ring of recent incidents.
type History struct {
	mu    sync.Mutex
	items []Incident
	next  int
	full  bool
}

func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{items: make([]Incident, size)}
}

func (h *History) Add(inc Incident) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.next] = inc
	h.next = (h.next + 1) % len(h.items)
	if h.next == 0 {
		h.full = true
	}
}

// List returns the incidents newest first.
func (h *History) List() []Incident {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.items)
	}
	out := make([]Incident, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}
