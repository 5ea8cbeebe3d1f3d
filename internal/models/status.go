package models

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusNoGarageFound    Status = "NO_GARAGE_FOUND"
	StatusInvalidToken     Status = "INVALID_TOKEN"
	StatusSendFailed       Status = "SEND_FAILED"
	StatusServerError      Status = "SERVER_ERROR"
	StatusPendingSent      Status = "PENDING_SENT"
	StatusSentSuccess      Status = "SENT_SUCCESS"
	StatusGarageAccepted   Status = "GARAGE_ACCEPTED"
	StatusGarageDeclined   Status = "GARAGE_DECLINED"
	StatusDriverCanceled   Status = "DRIVER_CANCELED"
	StatusExpired          Status = "EXPIRED"
	StatusServiceCompleted Status = "SERVICE_COMPLETED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusNoGarageFound,
	StatusInvalidToken,
	StatusSendFailed,
	StatusServerError,
	StatusPendingSent,
	StatusSentSuccess,
	StatusGarageAccepted,
	StatusGarageDeclined,
	StatusDriverCanceled,
	StatusExpired,
	StatusServiceCompleted,
}

// AllowedTransitions is the request lifecycle as code. A status missing
// from the map is terminal.
var AllowedTransitions = map[Status][]Status{
	StatusPendingSent:    {StatusSentSuccess, StatusSendFailed, StatusServerError},
	StatusSentSuccess:    {StatusGarageAccepted, StatusGarageDeclined, StatusDriverCanceled, StatusExpired},
	StatusGarageAccepted: {StatusServiceCompleted, StatusDriverCanceled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(AllowedTransitions[s]) == 0
}

// DispatcherOnly reports whether edges into s are reserved for the
// dispatcher's own send outcome.
func (s Status) DispatcherOnly() bool {
	for _, to := range AllowedTransitions[StatusPendingSent] {
		if to == s {
			return true
		}
	}
	return s == StatusPendingSent || s == StatusNoGarageFound || s == StatusInvalidToken
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ParseStatus accepts the canonical name in any case.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", v)}
	}
	return s, nil
}
