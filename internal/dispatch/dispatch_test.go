package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/push"
	"github.com/example/roadside-dispatch/internal/registry"
	"github.com/example/roadside-dispatch/internal/storage"
)

// fakeGateway accepts Expo tokens and records every batch.
type fakeGateway struct {
	mu         sync.Mutex
	batches    [][]push.Message
	err        error
	failTokens map[string]bool
	panicMsg   string
}

func (f *fakeGateway) IsValidToken(t string) bool { return push.IsExpoPushToken(t) }

func (f *fakeGateway) SendBatch(_ context.Context, msgs []push.Message) ([]models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.batches = append(f.batches, msgs)
	if f.err != nil {
		return nil, f.err
	}
	tickets := make([]models.Ticket, len(msgs))
	for i, m := range msgs {
		if f.failTokens[m.To] {
			return nil, errors.New("connection reset")
		}
		tickets[i] = models.Ticket{Token: m.To, Status: models.TicketOK, ID: "tk-" + m.To}
	}
	return tickets, nil
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type failingRegistry struct{}

func (failingRegistry) ListAll(context.Context) ([]models.Garage, error) {
	return nil, errors.New("registry offline")
}
func (failingRegistry) GetByID(context.Context, string) (models.Garage, error) {
	return models.Garage{}, errors.New("registry offline")
}

type panicRegistry struct{}

func (panicRegistry) ListAll(context.Context) ([]models.Garage, error) { panic("snapshot decode") }
func (panicRegistry) GetByID(context.Context, string) (models.Garage, error) {
	panic("snapshot decode")
}

// panicTokenGateway blows up while validating one specific token.
type panicTokenGateway struct {
	*fakeGateway
	bad string
}

func (p panicTokenGateway) IsValidToken(t string) bool {
	if t == p.bad {
		panic("token parser crashed")
	}
	return p.fakeGateway.IsValidToken(t)
}

// updateFailStore fails every status update, simulating a store outage
// after the entry was created.
type updateFailStore struct{ *storage.MemoryStore }

func (u updateFailStore) UpdateStatus(context.Context, string, models.Status, models.Status, *models.DispatchSummary) (*models.ServiceRequest, error) {
	return nil, errors.New("write timeout")
}

type recordingSink struct {
	mu  sync.Mutex
	got []models.StatusEvent
}

func (r *recordingSink) Publish(_ context.Context, e models.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
	return nil
}

func garageA() models.Garage {
	return models.Garage{ID: "A", Name: "Alpha Garage", Loc: models.Coord{Lat: 0, Lon: 0}, PushTokens: []string{"ExponentPushToken[a1]"}}
}

func garageB() models.Garage {
	return models.Garage{ID: "B", Name: "Bravo Garage", Loc: models.Coord{Lat: 1, Lon: 1}, PushTokens: []string{"ExponentPushToken[b1]"}}
}

func newService(reg registry.GarageRegistry, gw *fakeGateway) (*Service, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return &Service{Registry: reg, Store: store, Gateway: gw, DefaultRadiusKm: 50, DefaultLimit: 10}, store
}

func driver() Request {
	return Request{Lat: 0, Lon: 0.1, Name: "Dana", Phone: "+15550100"}
}

func allRequests(t *testing.T, s storage.RequestStore) []models.ServiceRequest {
	t.Helper()
	got, err := s.Query(context.Background(), storage.Filter{})
	require.NoError(t, err)
	return got
}

func TestDispatchEmptyRegistry(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newService(registry.NewMemory(), gw)

	res, err := svc.Dispatch(context.Background(), driver())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNoGarageFound))
	assert.False(t, res.Success)
	assert.Equal(t, models.StatusNoGarageFound, res.Status)
	assert.Zero(t, gw.calls())

	reqs := allRequests(t, store)
	require.Len(t, reqs, 1)
	assert.Equal(t, models.StatusNoGarageFound, reqs[0].Status)
	assert.Empty(t, reqs[0].GarageID)
}

func TestDispatchTargetNotFound(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newService(registry.NewMemory(garageA()), gw)
	req := driver()
	req.TargetGarageID = "ghost"

	res, err := svc.Dispatch(context.Background(), req)
	assert.True(t, errors.Is(err, models.ErrNoGarageFound))
	assert.Contains(t, res.Message, "ghost")
	assert.Zero(t, gw.calls())
	assert.Len(t, allRequests(t, store), 1)
}

func TestDispatchNoValidTokens(t *testing.T) {
	g := garageA()
	g.PushTokens = []string{"garbage", ""}
	gw := &fakeGateway{}
	svc, store := newService(registry.NewMemory(g), gw)

	res, err := svc.Dispatch(context.Background(), driver())
	assert.True(t, errors.Is(err, models.ErrUnreachable))
	assert.Equal(t, models.StatusInvalidToken, res.Status)
	assert.Zero(t, gw.calls())

	got, err := store.Get(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvalidToken, got.Status)
	assert.Equal(t, "A", got.GarageID)
}

func TestDispatchSendSuccess(t *testing.T) {
	g := garageA()
	g.PushTokens = []string{"ExponentPushToken[a1]", "bogus", "ExponentPushToken[a2]"}
	gw := &fakeGateway{}
	sink := &recordingSink{}
	svc, store := newService(registry.NewMemory(g, garageB()), gw)
	svc.Events = sink

	res, err := svc.Dispatch(context.Background(), driver())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "A", res.Garage.ID)
	assert.Equal(t, models.StatusSentSuccess, res.Status)

	require.Equal(t, 1, gw.calls())
	batch := gw.batches[0]
	require.Len(t, batch, 2)
	for _, m := range batch {
		assert.Equal(t, res.RequestID, m.Data["requestId"])
		assert.Equal(t, "Dana", m.Data["requesterName"])
		assert.Equal(t, "+15550100", m.Data["requesterPhone"])
	}

	got, err := store.Get(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSentSuccess, got.Status)
	assert.Len(t, got.Dispatch.Tickets, 2)

	require.Len(t, sink.got, 2)
	assert.Equal(t, models.StatusPendingSent, sink.got[0].To)
	assert.Equal(t, models.StatusPendingSent, sink.got[1].From)
	assert.Equal(t, models.StatusSentSuccess, sink.got[1].To)
}

func TestDispatchSendFailed(t *testing.T) {
	gw := &fakeGateway{err: errors.New("503 from upstream")}
	svc, store := newService(registry.NewMemory(garageA()), gw)

	res, err := svc.Dispatch(context.Background(), driver())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrGateway))
	assert.Equal(t, models.StatusSendFailed, res.Status)

	got, _ := store.Get(context.Background(), res.RequestID)
	assert.Equal(t, models.StatusSendFailed, got.Status)
	assert.Contains(t, got.Dispatch.Error, "503 from upstream")
}

func TestDispatchGatewayPanicRecordsServerError(t *testing.T) {
	gw := &fakeGateway{panicMsg: "nil map"}
	svc, store := newService(registry.NewMemory(garageA()), gw)

	res, err := svc.Dispatch(context.Background(), driver())
	assert.True(t, errors.Is(err, models.ErrServer))
	assert.Equal(t, models.StatusServerError, res.Status)

	got, _ := store.Get(context.Background(), res.RequestID)
	assert.Equal(t, models.StatusServerError, got.Status)
	assert.Contains(t, got.Dispatch.Error, "nil map")
}

func TestDispatchRegistryFailureRecordsServerError(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newService(failingRegistry{}, gw)

	res, err := svc.Dispatch(context.Background(), driver())
	assert.True(t, errors.Is(err, models.ErrServer))
	assert.Equal(t, models.StatusServerError, res.Status)
	assert.Len(t, allRequests(t, store), 1)
	assert.Zero(t, gw.calls())
}

func TestDispatchTokenCheckPanicRecordsServerError(t *testing.T) {
	g := garageA()
	g.PushTokens = []string{"ExponentPushToken[boom]"}
	gw := &fakeGateway{}
	store := storage.NewMemoryStore()
	svc := &Service{Registry: registry.NewMemory(g), Store: store, Gateway: panicTokenGateway{fakeGateway: gw, bad: "ExponentPushToken[boom]"}}

	res, err := svc.Dispatch(context.Background(), driver())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrServer))
	assert.Equal(t, models.StatusServerError, res.Status)
	assert.NotEmpty(t, res.RequestID)

	reqs := allRequests(t, store)
	require.Len(t, reqs, 1)
	assert.Equal(t, models.StatusServerError, reqs[0].Status)
	assert.Equal(t, "A", reqs[0].GarageID)
	assert.Contains(t, reqs[0].Dispatch.Error, "token parser crashed")
	assert.Zero(t, gw.calls())
}

func TestDispatchRegistryPanicRecordsServerError(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newService(panicRegistry{}, gw)

	res, err := svc.Dispatch(context.Background(), driver())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrServer))
	assert.Equal(t, models.StatusServerError, res.Status)

	reqs := allRequests(t, store)
	require.Len(t, reqs, 1)
	assert.Equal(t, models.StatusServerError, reqs[0].Status)
	assert.Empty(t, reqs[0].GarageID)
	assert.Zero(t, gw.calls())
}

func TestDispatchOutcomeNotRecordedLeavesPending(t *testing.T) {
	mem := storage.NewMemoryStore()
	gw := &fakeGateway{}
	svc := &Service{Registry: registry.NewMemory(garageA()), Store: updateFailStore{mem}, Gateway: gw}

	res, err := svc.Dispatch(context.Background(), driver())
	assert.True(t, errors.Is(err, models.ErrPersistence))
	assert.False(t, res.Success)
	assert.Equal(t, 1, gw.calls())

	got, _ := mem.Get(context.Background(), res.RequestID)
	assert.Equal(t, models.StatusPendingSent, got.Status)
}

func TestDispatchValidation(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newService(registry.NewMemory(garageA()), gw)

	cases := map[string]Request{
		"missing name":  {Lat: 0, Lon: 0, Phone: "1"},
		"missing phone": {Lat: 0, Lon: 0, Name: "x"},
		"bad latitude":  {Lat: 95, Lon: 0, Name: "x", Phone: "1"},
		"bad reply":     {Lat: 0, Lon: 0, Name: "x", Phone: "1", ReplyChannel: "nope"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Dispatch(context.Background(), req)
			assert.True(t, errors.Is(err, models.ErrValidation))
		})
	}
	assert.Empty(t, allRequests(t, store))
	assert.Zero(t, gw.calls())
}

func TestDispatchNearbyListOnly(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newService(registry.NewMemory(garageB(), garageA()), gw)

	res, err := svc.DispatchNearby(context.Background(), NearbyRequest{Lat: 0, Lon: 0.1, RadiusKm: 500})
	require.NoError(t, err)
	require.Len(t, res.Garages, 2)
	assert.Equal(t, "A", res.Garages[0].ID)
	assert.Equal(t, 11.12, res.Garages[0].DistanceKm)
	assert.Nil(t, res.Notifications)
	assert.Empty(t, allRequests(t, store))
}

func TestDispatchNearbyNotifyAllIsolatesFailures(t *testing.T) {
	ok := garageA()
	noTokens := models.Garage{ID: "C", Name: "Charlie", Loc: models.Coord{Lat: 0, Lon: 0.2}}
	broken := models.Garage{ID: "D", Name: "Delta", Loc: models.Coord{Lat: 0, Lon: 0.3}, PushTokens: []string{"ExponentPushToken[d1]"}}
	gw := &fakeGateway{failTokens: map[string]bool{"ExponentPushToken[d1]": true}}
	svc, store := newService(registry.NewMemory(broken, noTokens, ok), gw)

	res, err := svc.DispatchNearby(context.Background(), NearbyRequest{Lat: 0, Lon: 0, RadiusKm: 100, Limit: 10, NotifyAll: true, Name: "Dana", Phone: "+15550100"})
	require.NoError(t, err)
	require.Len(t, res.Notifications, 3)

	byGarage := map[string]Notification{}
	for _, n := range res.Notifications {
		byGarage[n.GarageID] = n
	}
	assert.Equal(t, NotifySuccess, byGarage["A"].Status)
	assert.Equal(t, NotifyNoTokens, byGarage["C"].Status)
	assert.Equal(t, NotifyFailed, byGarage["D"].Status)
	assert.Equal(t, []string{"A", "C", "D"}, []string{res.Notifications[0].GarageID, res.Notifications[1].GarageID, res.Notifications[2].GarageID})

	reqs := allRequests(t, store)
	require.Len(t, reqs, 3)
	statuses := map[string]models.Status{}
	for _, r := range reqs {
		statuses[r.GarageID] = r.Status
	}
	assert.Equal(t, models.StatusSentSuccess, statuses["A"])
	assert.Equal(t, models.StatusInvalidToken, statuses["C"])
	assert.Equal(t, models.StatusSendFailed, statuses["D"])
	assert.Equal(t, 2, gw.calls())
}

func TestDispatchNearbyPanicIsRecordedPerGarage(t *testing.T) {
	bad := models.Garage{ID: "E", Name: "Echo", Loc: models.Coord{Lat: 0, Lon: 0.2}, PushTokens: []string{"ExponentPushToken[boom]"}}
	gw := &fakeGateway{}
	store := storage.NewMemoryStore()
	svc := &Service{Registry: registry.NewMemory(garageA(), bad), Store: store, Gateway: panicTokenGateway{fakeGateway: gw, bad: "ExponentPushToken[boom]"}}

	res, err := svc.DispatchNearby(context.Background(), NearbyRequest{Lat: 0, Lon: 0, RadiusKm: 100, NotifyAll: true, Name: "Dana", Phone: "+15550100"})
	require.NoError(t, err)
	require.Len(t, res.Notifications, 2)
	assert.Equal(t, NotifySuccess, res.Notifications[0].Status)
	assert.Equal(t, NotifyFailed, res.Notifications[1].Status)
	assert.NotEmpty(t, res.Notifications[1].RequestID)

	statuses := map[string]models.Status{}
	for _, r := range allRequests(t, store) {
		statuses[r.GarageID] = r.Status
	}
	assert.Equal(t, map[string]models.Status{"A": models.StatusSentSuccess, "E": models.StatusServerError}, statuses)
}

func TestDispatchNearbyNotifyAllRequiresIdentity(t *testing.T) {
	svc, _ := newService(registry.NewMemory(garageA()), &fakeGateway{})
	_, err := svc.DispatchNearby(context.Background(), NearbyRequest{Lat: 0, Lon: 0, NotifyAll: true})
	assert.True(t, errors.Is(err, models.ErrValidation))
}
