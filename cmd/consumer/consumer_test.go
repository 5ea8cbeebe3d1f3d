package main

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/logging"
	"github.com/example/roadside-dispatch/internal/models"
)

// fakeWriter fails the first failUpsert calls.
type fakeWriter struct {
	failUpsert int
	calls      int
	got        []models.Garage
}

func (f *fakeWriter) Upsert(_ context.Context, g models.Garage) error {
	f.calls++
	if f.calls <= f.failUpsert {
		return errors.New("db unavailable")
	}
	f.got = append(f.got, g)
	return nil
}

type fakeInvalidator struct {
	fail  int32
	calls atomic.Int32
}

func (f *fakeInvalidator) Invalidate(context.Context) error {
	if f.calls.Add(1) <= f.fail {
		return errors.New("redis down")
	}
	return nil
}

func TestApplyWithRetrySucceedsAfterRetries(t *testing.T) {
	w := &fakeWriter{failUpsert: 1}
	inv := &fakeInvalidator{fail: 1}
	g := models.Garage{ID: "g1", Name: "Harbor Tow"}

	start := time.Now()
	require.NoError(t, applyWithRetry(context.Background(), w, inv, g, 3, 10*time.Millisecond))
	assert.Equal(t, 3, w.calls)
	assert.Equal(t, int32(2), inv.calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestApplyWithRetryFailsWhenExhausted(t *testing.T) {
	w := &fakeWriter{failUpsert: 5}
	err := applyWithRetry(context.Background(), w, noInvalidate{}, models.Garage{ID: "g1"}, 3, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "g1")
	assert.Equal(t, 3, w.calls)
}

func TestDecodeGarage(t *testing.T) {
	g, err := decodeGarage([]byte(`{"id":" g1 ","name":"Harbor Tow","location":{"lat":10,"lon":20},"pushTokens":["ExponentPushToken[x]"]}`))
	require.NoError(t, err)
	assert.Equal(t, "g1", g.ID)
	assert.Equal(t, 20.0, g.Loc.Lon)

	for _, raw := range []string{
		`not json`,
		`{"name":"x","location":{"lat":0,"lon":0}}`,
		`{"id":"g1","location":{"lat":0,"lon":0}}`,
		`{"id":"g1","name":"x","location":{"lat":91,"lon":0}}`,
	} {
		_, err := decodeGarage([]byte(raw))
		assert.Error(t, err, raw)
	}
}

// scriptedReader replays messages, then blocks until ctx ends.
type scriptedReader struct {
	msgs []kafka.Message
	errs []error
}

func (s *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return kafka.Message{}, err
	}
	if len(s.msgs) > 0 {
		m := s.msgs[0]
		s.msgs = s.msgs[1:]
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func TestConsumeAppliesValidUpdates(t *testing.T) {
	r := &scriptedReader{msgs: []kafka.Message{
		{Value: []byte(`{"id":"g1","name":"One","location":{"lat":1,"lon":1}}`)},
		{Value: []byte(`garbage`)},
		{Value: []byte(`{"id":"g2","name":"Two","location":{"lat":2,"lon":2}}`)},
	}}
	w := &fakeWriter{}
	inv := &fakeInvalidator{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consume(ctx, r, w, inv, logging.New(io.Discard, "error"))
		close(done)
	}()

	require.Eventually(t, func() bool { return inv.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	require.Len(t, w.got, 2)
	assert.Equal(t, "g2", w.got[1].ID)
}
