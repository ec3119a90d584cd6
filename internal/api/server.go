// Package api serves classification, extraction and reconciliation over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/eci-tracker/internal/extract"
	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/reconcile"
	"github.com/sells-group/eci-tracker/internal/store"
)

// maxBodyBytes bounds request bodies. Commission pages are well under this.
const maxBodyBytes = 8 << 20

// Server holds the handlers' dependencies.
type Server struct {
	ex    *extract.Extractor
	store store.Store
}

// New creates a Server. st may be nil, in which case case lookups return 503.
func New(ex *extract.Extractor, st store.Store) *Server {
	return &Server{ex: ex, store: st}
}

// Handler returns the router with CORS restricted to allowedOrigins.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/classify", s.classify)
		r.Post("/extract", s.extract)
		r.Post("/reconcile", s.reconcile)
		r.Get("/cases/*", s.getCase)
		r.Get("/rules", s.rules)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type classifyRequest struct {
	CaseID string `json:"case_id"`
	Text   string `json:"text"`
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	res, err := s.ex.Classifier().ClassifyCase(req.CaseID, req.Text)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	caseID := r.URL.Query().Get("case_id")
	if caseID == "" {
		writeError(w, http.StatusBadRequest, "case_id is required")
		return
	}
	kind := model.SourceKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = model.SourceResponse
	}
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be response or followup")
		return
	}

	rec, err := s.ex.ExtractHTML(http.MaxBytesReader(w, r.Body, maxBodyBytes), caseID, kind)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type reconcileRequest struct {
	Response *model.CaseRecord `json:"response"`
	Followup *model.CaseRecord `json:"followup"`
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	merged, err := reconcile.Reconcile(req.Response, req.Followup)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

// getCase serves /v1/cases/{caseID}. Case ids such as 2018/000004 contain a
// slash, so the id is the whole remaining path.
func (s *Server) getCase(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	caseID := strings.Trim(chi.URLParam(r, "*"), "/")
	if caseID == "" {
		writeError(w, http.StatusBadRequest, "case id is required")
		return
	}

	rec, err := s.store.GetMergedRecord(r.Context(), caseID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "case "+caseID+" not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) rules(w http.ResponseWriter, _ *http.Request) {
	rs := s.ex.Classifier().Ruleset()
	statuses := make([]string, 0, len(rs.Status))
	for _, sr := range rs.Status {
		statuses = append(statuses, sr.Status)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  rs.Version,
		"statuses": statuses,
	})
}

// fail maps domain errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	switch {
	case model.IsClassificationError(err), model.IsSectionNotFound(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &tooBig):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		zap.L().Error("api: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
