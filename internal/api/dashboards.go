package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
	"git.home.luguber.info/inful/dashrender/internal/scheduler"
)

// DashboardResponse describes one configured dashboard.
type DashboardResponse struct {
	ID          string            `json:"id"`
	Title       string            `json:"title,omitempty"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Format      string            `json:"format"`
	Mode        string            `json:"mode"`
	Widgets     int               `json:"widgets"`
	Entities    []string          `json:"entities"`
	Fingerprint string            `json:"layout_fingerprint"`
	Status      scheduler.Status  `json:"status"`
	Artifact    *ArtifactResponse `json:"artifact,omitempty"`
}

// ArtifactResponse describes the published image of a dashboard.
type ArtifactResponse struct {
	URL         string    `json:"url"`
	Fingerprint string    `json:"fingerprint"`
	ContentHash string    `json:"content_hash"`
	ObservedAt  time.Time `json:"observed_at"`
	CommittedAt time.Time `json:"committed_at"`
}

// InvalidLayoutResponse reports a layout document that failed to load.
type InvalidLayoutResponse struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// DashboardListResponse is the body of GET /api/dashboards.
type DashboardListResponse struct {
	Dashboards []DashboardResponse     `json:"dashboards"`
	Invalid    []InvalidLayoutResponse `json:"invalid,omitempty"`
}

// TriggerResponse represents the response for trigger operations.
type TriggerResponse struct {
	Status      string `json:"status"`
	DashboardID string `json:"dashboard_id"`
}

// HistoryEntry is one persisted render event.
type HistoryEntry struct {
	Type      string          `json:"type"`
	JobID     string          `json:"job_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) dashboard(id string) (DashboardResponse, error) {
	l, fp, err := s.deps.Layouts.Get(id)
	if err != nil {
		return DashboardResponse{}, err
	}
	st, _ := s.deps.Scheduler.Status(id)
	resp := DashboardResponse{
		ID:          l.ID,
		Title:       l.Title,
		Width:       l.Size.Width,
		Height:      l.Size.Height,
		Format:      string(l.Size.Format),
		Mode:        string(l.Size.Mode),
		Widgets:     len(l.Widgets),
		Entities:    l.Bindings(),
		Fingerprint: string(fp),
		Status:      st,
	}
	if s.deps.Records != nil {
		if rec, ok := s.deps.Records.Load(id); ok {
			resp.Artifact = &ArtifactResponse{
				URL:         "/artifacts/" + id,
				Fingerprint: string(rec.Fingerprint),
				ContentHash: rec.ContentHash,
				ObservedAt:  rec.ObservedAt,
				CommittedAt: rec.CommittedAt,
			}
		}
	}
	return resp, nil
}

func (s *Server) handleListDashboards(w http.ResponseWriter, r *http.Request) {
	out := DashboardListResponse{Dashboards: []DashboardResponse{}}
	for _, id := range s.deps.Layouts.List() {
		d, err := s.dashboard(id)
		if err != nil {
			// Removed between List and Get.
			continue
		}
		out.Dashboards = append(out.Dashboards, d)
	}
	for path, err := range s.deps.Layouts.Invalid() {
		out.Invalid = append(out.Invalid, InvalidLayoutResponse{Path: path, Error: err.Error()})
	}
	sortInvalid(out.Invalid)
	s.Success(w, http.StatusOK, out)
}

func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.dashboard(chi.URLParam(r, "id"))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, d)
}

// handleRender queues a forced render; the response does not wait for it.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Scheduler.TriggerForce(id, scheduler.ReasonManual); err != nil {
		if stderrors.Is(err, scheduler.ErrStopped) {
			err = errors.DaemonError("daemon is shutting down").WithCause(err).Build()
		}
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusAccepted, TriggerResponse{Status: "queued", DashboardID: id})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.History == nil {
		s.Error(w, r, errors.NotFoundError("render history is not enabled").Build())
		return
	}
	if _, _, err := s.deps.Layouts.Get(id); err != nil {
		s.Error(w, r, err)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.Error(w, r, errors.ValidationError("limit must be between 1 and 1000").WithContext("limit", v).Build())
			return
		}
		limit = n
	}
	evts, err := s.deps.History.GetByDashboard(r.Context(), id, limit)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	out := make([]HistoryEntry, 0, len(evts))
	for _, e := range evts {
		out = append(out, HistoryEntry{
			Type:      e.Type(),
			JobID:     e.JobID(),
			Timestamp: e.Timestamp(),
			Payload:   json.RawMessage(e.Payload()),
		})
	}
	s.Success(w, http.StatusOK, out)
}

// handleArtifact serves the published image. The content hash doubles as
// ETag so displays can poll with If-None-Match.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path, _, ok := s.deps.Artifacts.Lookup(id)
	if !ok {
		s.Error(w, r, errors.NotFoundError("no artifact published").WithContext("dashboard_id", id).Build())
		return
	}
	if s.deps.Records != nil {
		if rec, ok := s.deps.Records.Load(id); ok && rec.ContentHash != "" {
			w.Header().Set("ETag", `"`+rec.ContentHash+`"`)
		}
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

func sortInvalid(in []InvalidLayoutResponse) {
	slices.SortFunc(in, func(a, b InvalidLayoutResponse) int { return strings.Compare(a.Path, b.Path) })
}
