package models

import (
	"math"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether c is a finite WGS84 coordinate in degrees.
func (c Coord) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

type Garage struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Loc        Coord    `json:"location"`
	Phone      string   `json:"phone"`
	PushTokens []string `json:"pushTokens"`
	StaffIDs   []string `json:"staffIds"`
}

// ServiceRequest is one ledger entry. Only Status, Dispatch and UpdatedAt
// change after creation.
type ServiceRequest struct {
	ID             string          `json:"id"`
	RequesterName  string          `json:"requesterName"`
	RequesterPhone string          `json:"requesterPhone"`
	Loc            Coord           `json:"location"`
	ReplyChannel   string          `json:"replyChannel,omitempty"`
	GarageID       string          `json:"garageId,omitempty"`
	Status         Status          `json:"status"`
	Dispatch       DispatchSummary `json:"dispatch"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// DispatchSummary records what the gateway said about the initial send.
type DispatchSummary struct {
	Tokens  []string `json:"tokens,omitempty"`
	Tickets []Ticket `json:"tickets,omitempty"`
	Error   string   `json:"error,omitempty"`
}

const (
	TicketOK    = "ok"
	TicketError = "error"
)

// Ticket is the per-message outcome returned by the push gateway.
type Ticket struct {
	Token   string `json:"token"`
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// StatusEvent is emitted after every successful ledger status write.
// From is empty for the write that creates the record.
type StatusEvent struct {
	RequestID string    `json:"requestId"`
	GarageID  string    `json:"garageId,omitempty"`
	From      Status    `json:"from,omitempty"`
	To        Status    `json:"to"`
	At        time.Time `json:"at"`
}

func EventFor(r *ServiceRequest, from Status) StatusEvent {
	return StatusEvent{RequestID: r.ID, GarageID: r.GarageID, From: from, To: r.Status, At: r.UpdatedAt}
}
