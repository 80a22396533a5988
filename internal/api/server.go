// Package api exposes the cron trigger and operator endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-reconciler/internal/jobs"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/ratelimit"
	"payment-reconciler/internal/store"
	"payment-reconciler/internal/telemetry"
)

// CronTrigger runs one cron cycle.
type CronTrigger interface {
	RunOnce(ctx context.Context) (bool, error)
}

// Limiter admits or rejects a caller identified by key.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the reconciler.
type Server struct {
	services *jobs.Services
	store    *store.Store
	cron     CronTrigger
	limiter  Limiter
	validate *validator.Validate
	log      *zap.SugaredLogger
}

// New constructs the API server. A nil limiter leaves the cron trigger unthrottled.
func New(services *jobs.Services, st *store.Store, cron CronTrigger, limiter Limiter, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		services: services,
		store:    st,
		cron:     cron,
		limiter:  limiter,
		validate: validator.New(),
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/cron", s.handleCron)
	r.Get("/alerts", s.handleAlerts)

	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Post("/completion", s.handleCapture)
		r.Post("/void", s.handleVoid)
		r.Post("/refunds", s.handleRefund)
		r.Get("/failed-jobs", s.handleFailedJobs)
		r.Post("/failed-jobs/done", s.handleMarkDone)
		r.Get("/jobs", s.handleListJobs)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type cronResponse struct {
	Ran bool `json:"ran"`
}

func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), "cron:"+clientIP(r))
		if err != nil {
			s.log.Errorw("rate limiter unavailable", "error", err)
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	ran, err := s.cron.RunOnce(r.Context())
	if err != nil {
		s.log.Errorw("cron trigger failed", "ran", ran, "error", err)
		writeError(w, http.StatusInternalServerError, "cron run failed")
		return
	}
	writeJSON(w, http.StatusOK, cronResponse{Ran: ran})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.Alerts().List(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	job, err := s.services.CaptureOrder(r.Context(), orderID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job, ""))
}

func (s *Server) handleVoid(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	job, err := s.services.VoidOrder(r.Context(), orderID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job, ""))
}

type reductionRequest struct {
	LineItemID string          `json:"line_item_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type refundRequest struct {
	Restock    bool               `json:"restock"`
	Reductions []reductionRequest `json:"reductions" validate:"required,min=1,dive"`
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request", "fields": validationErrors(err)})
		return
	}

	reductions := make([]models.LineItemReduction, 0, len(req.Reductions))
	for _, rd := range req.Reductions {
		if rd.Quantity.IsNegative() || rd.UnitPrice.IsNegative() {
			writeError(w, http.StatusBadRequest, "reductions must not be negative")
			return
		}
		reductions = append(reductions, models.LineItemReduction{
			LineItemID:         rd.LineItemID,
			QuantityReduction:  rd.Quantity,
			UnitPriceReduction: rd.UnitPrice,
		})
	}

	job, err := s.services.RefundOrder(r.Context(), orderID, reductions, req.Restock)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job, ""))
}

func (s *Server) handleMarkDone(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	n, err := s.services.MarkFailedAsDone(r.Context(), orderID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

// jobView adds the failure reason rendered in the caller's language.
type jobView struct {
	*models.Job
	FailureMessage string `json:"failure_message,omitempty"`
}

func newJobView(job *models.Job, lang string) jobView {
	return jobView{Job: job, FailureMessage: job.FailureReason.Translate(lang)}
}

type overviewResponse struct {
	Jobs           []jobView       `json:"jobs"`
	Running        bool            `json:"running"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	overview, err := s.services.Overview(r.Context(), orderID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overviewResponse{
		Jobs:           views(overview.Jobs, r.URL.Query().Get("lang")),
		Running:        overview.Running,
		RefundedAmount: overview.Refunded,
	})
}

// handleFailedJobs previews what failed-jobs/done would acknowledge.
func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderParam(w, r)
	if !ok {
		return
	}
	failed, err := s.services.FailedJobsForOrder(r.Context(), orderID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views(failed, r.URL.Query().Get("lang"))})
}

func views(list []*models.Job, lang string) []jobView {
	out := make([]jobView, 0, len(list))
	for _, job := range list {
		out = append(out, newJobView(job, lang))
	}
	return out
}

// writeFailure maps service errors onto status codes.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrConflictingOperation), errors.Is(err, jobs.ErrNotPossible):
		msg := err.Error()
		if hints := errors.GetAllHints(err); len(hints) > 0 {
			msg += ": " + hints[0]
		}
		writeError(w, http.StatusConflict, msg)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Errorw("request failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func orderParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func validationErrors(err error) map[string]string {
	out := make(map[string]string)
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		out["request"] = err.Error()
		return out
	}
	for _, fe := range ve {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
