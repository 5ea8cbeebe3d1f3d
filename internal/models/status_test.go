package models

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTable(t *testing.T) {
	allowed := map[[2]Status]bool{}
	for from, tos := range AllowedTransitions {
		for _, to := range tos {
			allowed[[2]Status{from, to}] = true
		}
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition(StatusServiceCompleted, StatusGarageAccepted))
	assert.True(t, CanTransition(StatusSentSuccess, StatusGarageAccepted))
	assert.True(t, CanTransition(StatusGarageAccepted, StatusServiceCompleted))
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []Status{
		StatusServiceCompleted, StatusGarageDeclined, StatusDriverCanceled, StatusExpired,
		StatusSendFailed, StatusNoGarageFound, StatusInvalidToken, StatusServerError,
	}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusPendingSent, StatusSentSuccess, StatusGarageAccepted} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" garage_accepted ")
	require.NoError(t, err)
	assert.Equal(t, StatusGarageAccepted, s)

	_, err = ParseStatus("accepted-ish")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestCoordValid(t *testing.T) {
	assert.True(t, Coord{Lat: 90, Lon: -180}.Valid())
	assert.False(t, Coord{Lat: 90.01, Lon: 0}.Valid())
	assert.False(t, Coord{Lat: 0, Lon: 180.5}.Valid())
	assert.False(t, Coord{Lat: math.NaN(), Lon: 0}.Valid())
}

func TestTransitionErrorIs(t *testing.T) {
	var err error = &TransitionError{ID: "r1", From: StatusServiceCompleted, To: StatusGarageAccepted}
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "SERVICE_COMPLETED")
}
