package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/roadside-dispatch/internal/events"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/push"
	"github.com/example/roadside-dispatch/internal/registry"
	"github.com/example/roadside-dispatch/internal/storage"
)

// Service matches a requester to a garage, records the attempt in the
// ledger and notifies the garage's devices.
type Service struct {
	Registry registry.GarageRegistry
	Store    storage.RequestStore
	Gateway  push.Gateway
	Events   events.Sink
	Logger   *slog.Logger

	DefaultRadiusKm float64
	DefaultLimit    int
	// Concurrency bounds parallel garage attempts in DispatchNearby.
	Concurrency int
}

type Request struct {
	Lat            float64
	Lon            float64
	Name           string
	Phone          string
	TargetGarageID string
	ReplyChannel   string
}

type Result struct {
	Success    bool           `json:"success"`
	RequestID  string         `json:"requestId,omitempty"`
	Garage     *models.Garage `json:"matchedGarage,omitempty"`
	DistanceKm float64        `json:"distanceKm,omitempty"`
	Status     models.Status  `json:"status,omitempty"`
	Message    string         `json:"message"`
}

func (r Request) loc() models.Coord { return models.Coord{Lat: r.Lat, Lon: r.Lon} }

func (r Request) validate(v push.Validator) error {
	if strings.TrimSpace(r.Name) == "" {
		return &models.ValidationError{Field: "name", Reason: "required"}
	}
	if strings.TrimSpace(r.Phone) == "" {
		return &models.ValidationError{Field: "phoneNumber", Reason: "required"}
	}
	if err := geo.ValidateCoord(r.loc()); err != nil {
		return err
	}
	if r.ReplyChannel != "" && !v.IsValidToken(r.ReplyChannel) {
		return &models.ValidationError{Field: "replyChannel", Reason: "not a valid push token"}
	}
	return nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Dispatch runs one single-garage dispatch. The returned Result always
// carries a message; err classifies failures against the models sentinels.
// A panic anywhere in the run still leaves a SERVER_ERROR entry.
func (s *Service) Dispatch(ctx context.Context, req Request) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = s.unexpected(ctx, req, fmt.Errorf("panic: %v", p))
		}
	}()
	if err := req.validate(s.Gateway); err != nil {
		return Result{Message: err.Error()}, err
	}
	start := time.Now()
	defer func() { observability.DispatchLatency.Observe(time.Since(start).Seconds()) }()

	snapshot, err := s.Registry.ListAll(ctx)
	if err != nil {
		return s.unexpected(ctx, req, fmt.Errorf("load garages: %w", err))
	}
	garage, dist, err := geo.Match(req.loc(), snapshot, req.TargetGarageID)
	if errors.Is(err, models.ErrNoGarageFound) || errors.Is(err, models.ErrNotFound) {
		return s.noMatch(ctx, req, err)
	}
	if err != nil {
		return Result{Message: err.Error()}, err
	}
	return s.attempt(ctx, req, garage, dist)
}

func (s *Service) noMatch(ctx context.Context, req Request, cause error) (Result, error) {
	reason := "no garage available"
	if errors.Is(cause, models.ErrNotFound) {
		reason = fmt.Sprintf("garage %s not found", req.TargetGarageID)
	}
	sr := newRequest(req, "", models.StatusNoGarageFound)
	sr.Dispatch.Error = reason
	id, err := s.create(ctx, sr)
	if err != nil {
		return persistenceFailure(Result{}, err)
	}
	s.logger().Info("dispatch no match", "request_id", id, "reason", reason)
	return Result{RequestID: id, Status: models.StatusNoGarageFound, Message: reason},
		fmt.Errorf("%w: %s", models.ErrNoGarageFound, reason)
}

// unexpected records a SERVER_ERROR entry for failures that happen before
// any garage was attempted.
func (s *Service) unexpected(ctx context.Context, req Request, cause error) (Result, error) {
	sr := newRequest(req, "", models.StatusServerError)
	sr.Dispatch.Error = cause.Error()
	id, err := s.create(ctx, sr)
	if err != nil {
		return persistenceFailure(Result{}, err)
	}
	s.logger().Error("dispatch failed", "request_id", id, "error", cause)
	return Result{RequestID: id, Status: models.StatusServerError, Message: "internal error, please try again"},
		fmt.Errorf("%w: %v", models.ErrServer, cause)
}

// attempt runs token validation, ledger creation and the gateway call for
// one matched garage.
func (s *Service) attempt(ctx context.Context, req Request, g models.Garage, dist float64) (res Result, err error) {
	res = Result{Garage: &g, DistanceKm: geo.Round2(dist)}

	var (
		id     string
		tokens []string
	)
	defer func() {
		if p := recover(); p != nil {
			res, err = s.recovered(ctx, req, res, g.ID, id, tokens, p)
		}
	}()

	tokens = push.ValidTokens(s.Gateway, g.PushTokens)
	if len(tokens) == 0 {
		sr := newRequest(req, g.ID, models.StatusInvalidToken)
		sr.Dispatch.Error = "garage has no valid push token"
		iid, cerr := s.create(ctx, sr)
		if cerr != nil {
			return persistenceFailure(res, cerr)
		}
		id = iid
		res.RequestID, res.Status = id, models.StatusInvalidToken
		res.Message = fmt.Sprintf("%s cannot be reached right now", g.Name)
		s.logger().Warn("garage unreachable", "request_id", id, "garage_id", g.ID, "raw_tokens", len(g.PushTokens))
		return res, fmt.Errorf("%w: garage %s", models.ErrUnreachable, g.ID)
	}

	sr := newRequest(req, g.ID, models.StatusPendingSent)
	sr.Dispatch.Tokens = tokens
	pid, cerr := s.create(ctx, sr)
	if cerr != nil {
		return persistenceFailure(res, cerr)
	}
	id = pid
	res.RequestID, res.Status = id, models.StatusPendingSent

	tickets, gwErr := s.Gateway.SendBatch(ctx, buildMessages(sr, g, res.DistanceKm, tokens))
	if gwErr != nil {
		if !errors.Is(gwErr, models.ErrGateway) {
			gwErr = fmt.Errorf("%w: %v", models.ErrGateway, gwErr)
		}
		s.logger().Warn("push send failed", "request_id", id, "garage_id", g.ID, "error", gwErr)
		return s.finish(ctx, res, models.StatusSendFailed, models.DispatchSummary{Tokens: tokens, Error: gwErr.Error()}, gwErr)
	}
	return s.finish(ctx, res, models.StatusSentSuccess, models.DispatchSummary{Tokens: tokens, Tickets: tickets}, nil)
}

// recovered turns a panic inside attempt into a SERVER_ERROR entry. With no
// ledger id yet a fresh entry is created, otherwise the PENDING_SENT one is
// moved.
func (s *Service) recovered(ctx context.Context, req Request, res Result, garageID, id string, tokens []string, p any) (Result, error) {
	cause := fmt.Errorf("%w: %v", models.ErrServer, p)
	s.logger().Error("dispatch panic", "request_id", id, "garage_id", garageID, "error", cause)
	summary := models.DispatchSummary{Tokens: tokens, Error: cause.Error()}
	if id == "" {
		sr := newRequest(req, garageID, models.StatusServerError)
		sr.Dispatch = summary
		nid, err := s.create(ctx, sr)
		if err != nil {
			return persistenceFailure(res, err)
		}
		res.Success = false
		res.RequestID, res.Status = nid, models.StatusServerError
		res.Message = "internal error, please try again"
		return res, cause
	}
	if res.Status != models.StatusPendingSent {
		return res, cause
	}
	return s.finish(ctx, res, models.StatusServerError, summary, cause)
}

// finish moves the PENDING_SENT entry to its send outcome.
func (s *Service) finish(ctx context.Context, res Result, status models.Status, summary models.DispatchSummary, cause error) (Result, error) {
	updated, err := s.Store.UpdateStatus(ctx, res.RequestID, models.StatusPendingSent, status, &summary)
	if err != nil {
		s.logger().Error("dispatch outcome not recorded", "request_id", res.RequestID, "outcome", status, "error", err)
		return persistenceFailure(res, err)
	}
	observability.DispatchTotal.WithLabelValues(string(status)).Inc()
	events.PublishLogged(ctx, s.Events, s.logger(), models.EventFor(updated, models.StatusPendingSent))

	res.Status = status
	switch status {
	case models.StatusSentSuccess:
		res.Success = true
		res.Message = fmt.Sprintf("%s has been notified", res.Garage.Name)
		s.logger().Info("dispatch sent", "request_id", res.RequestID, "garage_id", res.Garage.ID, "tokens", len(summary.Tokens))
		return res, nil
	case models.StatusSendFailed:
		res.Message = "could not notify the garage, please try again"
	default:
		res.Message = "internal error, please try again"
	}
	return res, cause
}

func (s *Service) create(ctx context.Context, sr *models.ServiceRequest) (string, error) {
	id, err := s.Store.Create(ctx, sr)
	if err != nil {
		return "", err
	}
	sr.ID = id
	if sr.Status != models.StatusPendingSent {
		observability.DispatchTotal.WithLabelValues(string(sr.Status)).Inc()
	}
	events.PublishLogged(ctx, s.Events, s.logger(), models.EventFor(sr, ""))
	return id, nil
}

func persistenceFailure(res Result, err error) (Result, error) {
	res.Success = false
	res.Message = "request could not be saved, please try again"
	if !errors.Is(err, models.ErrPersistence) {
		err = fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return res, err
}

func newRequest(req Request, garageID string, status models.Status) *models.ServiceRequest {
	return &models.ServiceRequest{
		RequesterName:  strings.TrimSpace(req.Name),
		RequesterPhone: strings.TrimSpace(req.Phone),
		Loc:            req.loc(),
		ReplyChannel:   req.ReplyChannel,
		GarageID:       garageID,
		Status:         status,
	}
}

func buildMessages(sr *models.ServiceRequest, g models.Garage, distKm float64, tokens []string) []push.Message {
	data := map[string]any{
		"requestId":      sr.ID,
		"garageId":       g.ID,
		"requesterName":  sr.RequesterName,
		"requesterPhone": sr.RequesterPhone,
		"latitude":       sr.Loc.Lat,
		"longitude":      sr.Loc.Lon,
		"distanceKm":     distKm,
	}
	msgs := make([]push.Message, 0, len(tokens))
	for _, t := range tokens {
		msgs = append(msgs, push.Message{
			To:       t,
			Title:    "Roadside assistance request",
			Body:     fmt.Sprintf("%s needs help %.1f km away", sr.RequesterName, distKm),
			Data:     data,
			Sound:    "default",
			Priority: "high",
		})
	}
	return msgs
}
