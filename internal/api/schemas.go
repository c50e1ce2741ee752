package api

import (
	"github.com/showgayaki/camenashi-kun/internal/orchestrator"
	"github.com/showgayaki/camenashi-kun/internal/proc"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	orchestrator.Snapshot
	Flags map[string]bool `json:"flags,omitempty"`
	Deps  *DepsResponse   `json:"deps,omitempty"`
}

type DepsResponse struct {
	Executables map[string]proc.DepInfo `json:"executables"`
	AllOK       bool                    `json:"all_ok"`
	LastProbeAt string                  `json:"last_probe_at,omitempty"`
}

type IncidentsResponse struct {
	Incidents []orchestrator.Incident `json:"incidents"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
