package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dumpsite-dispatch/internal/classifier"
	"dumpsite-dispatch/internal/config"
	"dumpsite-dispatch/internal/dispatch"
	"dumpsite-dispatch/internal/models"
	"dumpsite-dispatch/internal/registry"
	"dumpsite-dispatch/internal/report"
	"dumpsite-dispatch/internal/store"
	"dumpsite-dispatch/internal/telemetry"
)

// Server wires HTTP handlers for reporters, workers and supervisors.
type Server struct {
	cfg     config.Config
	engine  *dispatch.Engine
	workers *registry.Registry
	reports *report.Service
}

// New constructs the API server.
func New(cfg config.Config, engine *dispatch.Engine, workers *registry.Registry, reports *report.Service) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		workers: workers,
		reports: reports,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/reports", s.handleSubmitReport)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Post("/{id}/accept", s.handleAccept)
		r.Post("/{id}/complete", s.handleComplete)
	})

	r.Route("/workers", func(r chi.Router) {
		r.Post("/", s.handleProvisionWorker)
		r.Get("/", s.handleListWorkers)
		r.Get("/{id}", s.handleGetWorker)
		r.Get("/{id}/earnings", s.handleEarnings)
	})

	r.Get("/zones/{zone}/stats", s.handleZoneStats)
	return r
}

func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.ImageMaxBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read image")
		return
	}
	if int64(len(data)) > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}

	lat, latErr := strconv.ParseFloat(r.FormValue("lat"), 64)
	lng, lngErr := strconv.ParseFloat(r.FormValue("lng"), 64)
	if latErr != nil || lngErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lng must be numbers")
		return
	}

	job, err := s.reports.Submit(r.Context(), report.Submission{
		ReporterName:    r.FormValue("reporter_name"),
		ReporterContact: r.FormValue("reporter_contact"),
		Location:        models.Location{Lat: lat, Lng: lng, Address: r.FormValue("address")},
		Description:     r.FormValue("description"),
		Zone:            r.FormValue("zone"),
		Image:           data,
		Filename:        header.Filename,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, job)
	case errors.Is(err, report.ErrInvalidSubmission):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, classifier.ErrUnreadableImage):
		writeError(w, http.StatusUnprocessableEntity, "image could not be classified")
	case errors.Is(err, report.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	default:
		log.Printf("submit report: %v", err)
		writeError(w, http.StatusInternalServerError, "submit report failed")
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := dispatch.Filter{
		Status:   models.JobStatus(strings.ToLower(q.Get("status"))),
		Zone:     q.Get("zone"),
		Assignee: q.Get("assignee"),
	}
	switch f.Status {
	case "", models.StatusPending, models.StatusAccepted, models.StatusCompleted:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	jobs, err := s.engine.Search(r.Context(), f)
	if err != nil {
		s.internalError(w, "list jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok, err := s.engine.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, "get job", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type transitionRequest struct {
	WorkerID string `json:"worker_id"`
}

type transitionResponse struct {
	OK  bool             `json:"ok"`
	Job dispatch.JobView `json:"job"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "accept", s.engine.Accept)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "complete", s.engine.Complete)
}

// transition runs accept or complete. A refused transition is a 409 carrying the current job.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, jobID, workerID string) (bool, error)) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}
	id := chi.URLParam(r, "id")
	ok, err := fn(r.Context(), id, req.WorkerID)
	if err != nil {
		s.internalError(w, op+" job", err)
		return
	}
	job, found, err := s.engine.Job(r.Context(), id)
	if err != nil {
		s.internalError(w, op+" job", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	code := http.StatusOK
	if !ok {
		code = http.StatusConflict
	}
	writeJSON(w, code, transitionResponse{OK: ok, Job: job})
}

type provisionRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Zone string `json:"zone"`
	Role string `json:"role"`
}

func (s *Server) handleProvisionWorker(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Zone) == "" {
		writeError(w, http.StatusBadRequest, "name and zone are required")
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	worker, err := s.workers.Provision(r.Context(), registry.NewWorker{ID: req.ID, Name: req.Name, Zone: req.Zone, Role: role})
	if errors.Is(err, store.ErrExists) {
		writeError(w, http.StatusConflict, "worker already exists")
		return
	}
	if err != nil {
		s.internalError(w, "provision worker", err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	var roles []models.Role
	if v := r.URL.Query().Get("role"); v != "" {
		role, err := models.ParseRole(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		roles = append(roles, role)
	}
	workers, err := s.engine.Workers(r.Context(), r.URL.Query().Get("zone"), roles...)
	if err != nil {
		s.internalError(w, "list workers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, ok, err := s.engine.Worker(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, "get worker", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	sum, ok, err := s.engine.Earnings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, "earnings", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleZoneStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.ZoneStats(r.Context(), chi.URLParam(r, "zone"))
	if err != nil {
		s.internalError(w, "zone stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("%s: %v", op, err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
