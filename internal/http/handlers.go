package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/roadside-dispatch/internal/dispatch"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/stats"
)

const maxBodyBytes = 1 << 20

// Deps are the services the API fronts. Ready checks run on /ready; a nil
// map means always ready.
type Deps struct {
	Dispatch  *dispatch.Service
	Lifecycle *lifecycle.Service
	Stats     *stats.Aggregator
	WSReg     *dispatch.WSRegistry
	Ready     map[string]func(context.Context) error
}

type Server struct {
	Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(d Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Deps: d, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/requests", s.handleCreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/status", s.handleUpdateStatus).Methods(http.MethodPatch)
	api.HandleFunc("/garages/nearby", s.handleNearby).Methods(http.MethodPost)
	api.HandleFunc("/reports", s.handleReport).Methods(http.MethodGet)

	s.mux.HandleFunc("/ws/requests/{id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRequestBody struct {
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	Name           string   `json:"name"`
	PhoneNumber    string   `json:"phoneNumber"`
	TargetGarageID string   `json:"targetGarageId"`
	ReplyChannel   string   `json:"replyChannel"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Latitude == nil || body.Longitude == nil {
		s.writeError(w, r, &models.ValidationError{Field: "location", Reason: "latitude and longitude are required"})
		return
	}
	res, err := s.Dispatch.Dispatch(r.Context(), dispatch.Request{
		Lat:            *body.Latitude,
		Lon:            *body.Longitude,
		Name:           body.Name,
		Phone:          body.PhoneNumber,
		TargetGarageID: body.TargetGarageID,
		ReplyChannel:   body.ReplyChannel,
	})
	if err != nil {
		s.logFailure(r, err)
		writeJSON(w, statusFor(err), res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type nearbyBody struct {
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	MaxDistanceKm float64  `json:"maxDistanceKm"`
	Limit         int      `json:"limit"`
	NotifyAll     bool     `json:"notifyAll"`
	Name          string   `json:"name"`
	PhoneNumber   string   `json:"phoneNumber"`
	ReplyChannel  string   `json:"replyChannel"`
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	var body nearbyBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Latitude == nil || body.Longitude == nil {
		s.writeError(w, r, &models.ValidationError{Field: "location", Reason: "latitude and longitude are required"})
		return
	}
	res, err := s.Dispatch.DispatchNearby(r.Context(), dispatch.NearbyRequest{
		Lat:          *body.Latitude,
		Lon:          *body.Longitude,
		RadiusKm:     body.MaxDistanceKm,
		Limit:        body.Limit,
		NotifyAll:    body.NotifyAll,
		Name:         body.Name,
		Phone:        body.PhoneNumber,
		ReplyChannel: body.ReplyChannel,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	sr, err := s.Lifecycle.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sr)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	target, err := models.ParseStatus(body.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sr, err := s.Lifecycle.Transition(r.Context(), mux.Vars(r)["id"], target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sr)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	periodArg := q.Get("period")
	if periodArg == "" {
		periodArg = string(stats.Daily)
	}
	period, err := stats.ParsePeriod(periodArg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rep, err := s.Stats.Report(r.Context(), strings.TrimSpace(q.Get("garageId")), period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch strings.ToLower(q.Get("format")) {
	case "", "json":
		writeJSON(w, http.StatusOK, rep)
	case "pdf":
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `inline; filename="report-`+string(period)+`.pdf"`)
		if err := stats.RenderPDF(w, rep); err != nil {
			s.logger.Error("render report pdf", "error", err)
		}
	default:
		s.writeError(w, r, &models.ValidationError{Field: "format", Reason: "expected json or pdf"})
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS streams status events for one request. The current status is
// sent first so late subscribers start from a known state.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.Lifecycle.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "request_id", id, "error", err)
		return
	}
	session, err := s.WSReg.Subscribe(id, conn, func() (models.StatusEvent, error) {
		sr, err := s.Lifecycle.Get(r.Context(), id)
		if err != nil {
			return models.StatusEvent{}, err
		}
		return models.EventFor(sr, ""), nil
	})
	if err != nil {
		s.logger.Warn("ws subscribe failed", "request_id", id, "error", err)
		return
	}
	s.WSReg.Listen(id, session)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.Ready {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, r, &models.ValidationError{Field: "body", Reason: err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Current models.Status `json:"currentStatus,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	body := errorBody{Message: err.Error()}
	var te *models.TransitionError
	if errors.As(err, &te) {
		body.Current = te.From
	}
	if code >= http.StatusInternalServerError {
		s.logFailure(r, err)
		body.Message = "internal error, please try again"
	}
	writeJSON(w, code, body)
}

func (s *Server) logFailure(r *http.Request, err error) {
	level := slog.LevelInfo
	if statusFor(err) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
}

// statusFor maps the models error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNoGarageFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnreachable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
