package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/models"
)

const (
	NotifySuccess  = "success"
	NotifyFailed   = "failed"
	NotifyNoTokens = "no_tokens"
)

type NearbyRequest struct {
	Lat          float64
	Lon          float64
	RadiusKm     float64
	Limit        int
	NotifyAll    bool
	Name         string
	Phone        string
	ReplyChannel string
}

type NearbyGarage struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Phone      string  `json:"phone,omitempty"`
	DistanceKm float64 `json:"distanceKm"`
}

// Notification is the per-garage outcome of a notify-all dispatch.
type Notification struct {
	GarageID  string `json:"garageId"`
	Status    string `json:"status"`
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message,omitempty"`
}

type NearbyResult struct {
	Garages       []NearbyGarage `json:"garages"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// DispatchNearby lists the garages around the requester and, with NotifyAll,
// dispatches to each of them independently. A failing garage never stops
// the others; notifications keep the garage order.
func (s *Service) DispatchNearby(ctx context.Context, req NearbyRequest) (NearbyResult, error) {
	if req.NotifyAll {
		single := Request{Lat: req.Lat, Lon: req.Lon, Name: req.Name, Phone: req.Phone, ReplyChannel: req.ReplyChannel}
		if err := single.validate(s.Gateway); err != nil {
			return NearbyResult{}, err
		}
	}
	radius := req.RadiusKm
	if radius == 0 {
		radius = s.DefaultRadiusKm
	}
	limit := req.Limit
	if limit == 0 {
		limit = s.DefaultLimit
	}

	snapshot, err := s.Registry.ListAll(ctx)
	if err != nil {
		return NearbyResult{}, fmt.Errorf("%w: load garages: %v", models.ErrServer, err)
	}
	cands, err := geo.Nearby(models.Coord{Lat: req.Lat, Lon: req.Lon}, snapshot, radius, limit)
	if err != nil {
		return NearbyResult{}, err
	}

	out := NearbyResult{Garages: make([]NearbyGarage, len(cands))}
	for i, c := range cands {
		out.Garages[i] = NearbyGarage{ID: c.Garage.ID, Name: c.Garage.Name, Lat: c.Garage.Loc.Lat, Lon: c.Garage.Loc.Lon, Phone: c.Garage.Phone, DistanceKm: c.DistanceKm}
	}
	if !req.NotifyAll || len(cands) == 0 {
		return out, nil
	}

	base := Request{Lat: req.Lat, Lon: req.Lon, Name: strings.TrimSpace(req.Name), Phone: strings.TrimSpace(req.Phone), ReplyChannel: req.ReplyChannel}
	out.Notifications = make([]Notification, len(cands))

	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i, c := range cands {
		i, c := i, c
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					s.logger().Error("garage dispatch panic", "garage_id", c.Garage.ID, "error", p)
					out.Notifications[i] = Notification{GarageID: c.Garage.ID, Status: NotifyFailed, Message: "internal error"}
				}
			}()
			res, err := s.attempt(ctx, base, c.Garage, c.DistanceKm)
			out.Notifications[i] = notificationFor(c.Garage.ID, res, err)
			return nil
		})
	}
	_ = g.Wait()

	sent := 0
	for _, n := range out.Notifications {
		if n.Status == NotifySuccess {
			sent++
		}
	}
	s.logger().Info("nearby dispatch", "candidates", len(cands), "notified", sent)
	return out, nil
}

func notificationFor(garageID string, res Result, err error) Notification {
	n := Notification{GarageID: garageID, RequestID: res.RequestID, Message: res.Message}
	switch {
	case err == nil && res.Success:
		n.Status = NotifySuccess
	case errors.Is(err, models.ErrUnreachable):
		n.Status = NotifyNoTokens
	default:
		n.Status = NotifyFailed
	}
	return n
}

func (s *Service) concurrency() int {
	if s.Concurrency <= 0 {
		return 8
	}
	return s.Concurrency
}
