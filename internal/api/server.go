// Package api exposes the bug store and verification engine over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/A-ryanVAT-S/Provify/internal/consensus"
	"github.com/A-ryanVAT-S/Provify/internal/logging"
	"github.com/A-ryanVAT-S/Provify/internal/service"
	"github.com/A-ryanVAT-S/Provify/internal/storage"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 10 << 20

// Server serves the HTTP API
type Server struct {
	svc *service.Service
	log *slog.Logger
}

// NewServer creates a server over svc
func NewServer(svc *service.Service) *Server {
	return &Server{svc: svc, log: logging.New("api")}
}

// Handler returns the routed handler with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("GET /bugs", s.handleListBugs)
	mux.HandleFunc("POST /bugs", s.handleCreateBug)
	mux.HandleFunc("POST /bugs/bulk", s.handleBulkCreate)
	mux.HandleFunc("POST /bugs/bulk-upload", s.handleBulkUpload)
	mux.HandleFunc("POST /bugs/verify-all", s.handleVerifyAll)
	mux.HandleFunc("POST /bugs/reverify-fixed", s.handleReverifyFixed)

	mux.HandleFunc("GET /bugs/{id}", s.handleGetBug)
	mux.HandleFunc("PATCH /bugs/{id}", s.handleUpdateBug)
	mux.HandleFunc("DELETE /bugs/{id}", s.handleDeleteBug)
	mux.HandleFunc("POST /bugs/{id}/verify", s.handleVerifyBug)
	mux.HandleFunc("POST /bugs/{id}/fix", s.handleMarkFixed)

	mux.HandleFunc("POST /load-from-file", s.handleLoadFromFile)
	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.Handle("GET /metrics", s.svc.Metrics.Handler())

	return s.withLogging(withCORS(mux))
}

// NewHTTPServer returns an http.Server for addr with conservative timeouts.
// WriteTimeout is left unset; verification requests run for minutes.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		} else {
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

// --- request/response bodies ---

type bugRequest struct {
	AppName    string  `json:"app_name"`
	AppPackage *string `json:"app_package"`
	Bug        string  `json:"bug"`
}

func (b bugRequest) input() types.BugInput {
	in := types.BugInput{AppName: b.AppName, Description: b.Bug}
	if b.AppPackage != nil {
		in.AppPackage = *b.AppPackage
	}
	return in
}

type updateRequest struct {
	Status *string `json:"status"`
	Notes  *string `json:"notes"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type bulkUploadResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Message string       `json:"message"`
	Bugs    []*types.Bug `json:"bugs"`
}

type verifyResponse struct {
	Success bool                       `json:"success"`
	Status  types.Status               `json:"status"`
	Message string                     `json:"message"`
	Summary *types.VerificationSummary `json:"summary"`
}

type batchItem struct {
	BugID   string `json:"bug_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type verifyAllResponse struct {
	Verified int         `json:"verified"`
	Results  []batchItem `json:"results"`
}

type reverifyResponse struct {
	Regressions int         `json:"regressions"`
	Results     []batchItem `json:"results"`
}

type devicesResponse struct {
	Count   int            `json:"count"`
	Devices []types.Target `json:"devices"`
}

// --- handlers ---

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Provify API", "version": s.svc.Version})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Store.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListBugs(w http.ResponseWriter, r *http.Request) {
	var filter types.BugFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := types.ParseStatus(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		filter.Status = &status
	}
	filter.AppPackage = r.URL.Query().Get("app_package")

	bugs, err := s.svc.Store.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bugs))
}

func (s *Server) handleGetBug(w http.ResponseWriter, r *http.Request) {
	bug, err := s.svc.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

func (s *Server) handleCreateBug(w http.ResponseWriter, r *http.Request) {
	var req bugRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	in := req.input()
	bug, err := s.svc.Store.Intake(r.Context(), in.AppName, in.AppPackage, in.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

func (s *Server) decodeBatch(w http.ResponseWriter, r *http.Request) ([]types.BugInput, bool) {
	var reqs []bugRequest
	if err := decodeJSON(w, r, &reqs); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	inputs := make([]types.BugInput, len(reqs))
	for i, req := range reqs {
		inputs[i] = req.input()
	}
	return inputs, true
}

func (s *Server) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	inputs, ok := s.decodeBatch(w, r)
	if !ok {
		return
	}
	bugs, err := s.svc.Store.IntakeBatch(r.Context(), inputs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bugs))
}

func (s *Server) handleBulkUpload(w http.ResponseWriter, r *http.Request) {
	inputs, ok := s.decodeBatch(w, r)
	if !ok {
		return
	}
	if len(inputs) == 0 {
		s.writeError(w, storage.ErrEmptyBatch)
		return
	}
	if err := s.svc.Store.RecordIntake(r.Context(), inputs); err != nil {
		s.writeError(w, err)
		return
	}
	bugs, err := s.svc.Store.IntakeBatch(r.Context(), inputs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkUploadResponse{
		Success: true,
		Count:   len(bugs),
		Message: fmt.Sprintf("Successfully added %d bugs", len(bugs)),
		Bugs:    nonNil(bugs),
	})
}

func (s *Server) handleVerifyBug(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.VerifyBug(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Success: summary.Reproduced(),
		Status:  summary.Outcome,
		Message: summary.SummaryText,
		Summary: summary,
	})
}

func (s *Server) handleVerifyAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.VerifyPending(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := verifyAllResponse{Results: make([]batchItem, 0, len(results))}
	for _, res := range results {
		item := batchFromResult(res)
		if res.Summary != nil {
			item.Status = string(res.Summary.Outcome)
			if res.Summary.Reproduced() {
				resp.Verified++
			}
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReverifyFixed(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.ReverifyFixed(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := reverifyResponse{Results: make([]batchItem, 0, len(results))}
	for _, res := range results {
		item := batchFromResult(res)
		if res.Summary != nil {
			item.Status = "confirmed_fixed"
			if res.Regression {
				item.Status = "regression"
				resp.Regressions++
			}
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func batchFromResult(res consensus.BatchResult) batchItem {
	if res.Summary == nil {
		return batchItem{BugID: res.BugID, Status: "error", Message: res.Error}
	}
	return batchItem{BugID: res.BugID, Message: res.Summary.SummaryText}
}

func (s *Server) handleUpdateBug(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		bug *types.Bug
		err error
	)
	switch {
	case req.Status != nil:
		var status types.Status
		if status, err = types.ParseStatus(*req.Status); err != nil {
			s.writeError(w, err)
			return
		}
		notes := ""
		if req.Notes != nil {
			notes = *req.Notes
		}
		bug, err = s.svc.Store.UpdateStatus(r.Context(), id, status, notes)
	case req.Notes != nil:
		bug, err = s.svc.Store.UpdateNotes(r.Context(), id, *req.Notes)
	default:
		bug, err = s.svc.Store.Get(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

func (s *Server) handleMarkFixed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.svc.MarkFixed(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: fmt.Sprintf("Bug %s marked as fixed", id)})
}

func (s *Server) handleDeleteBug(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Store.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: fmt.Sprintf("Bug %s deleted", id)})
}

func (s *Server) handleLoadFromFile(w http.ResponseWriter, r *http.Request) {
	count, err := s.svc.Store.LoadIntake(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"loaded":  count,
		"message": fmt.Sprintf("Loaded %d bugs from intake", count),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		s.svc.Devices.Refresh(r.Context())
	}
	targets := s.svc.Devices.Targets()
	writeJSON(w, http.StatusOK, devicesResponse{Count: len(targets), Devices: targets})
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps a domain error onto a status code
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch service.ErrorKind(err) {
	case "not_found":
		status = http.StatusNotFound
	case "conflict":
		status = http.StatusConflict
	case "invalid":
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		s.log.Error("request failed", "error", err)
	}
	writeDetail(w, status, err.Error())
}

func nonNil(bugs []*types.Bug) []*types.Bug {
	if bugs == nil {
		return []*types.Bug{}
	}
	return bugs
}
