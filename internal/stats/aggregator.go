package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/registry"
	"github.com/example/roadside-dispatch/internal/storage"
)

type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

const (
	topGaragesN     = 5
	recentActivityN = 10
)

func ParsePeriod(v string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(v)))
	if _, ok := windows[p]; !ok {
		return "", &models.ValidationError{Field: "period", Reason: fmt.Sprintf("unknown period %q", v)}
	}
	return p, nil
}

var windows = map[Period]time.Duration{
	Daily:   24 * time.Hour,
	Weekly:  7 * 24 * time.Hour,
	Monthly: 30 * 24 * time.Hour,
}

func (p Period) Window() time.Duration { return windows[p] }

type GarageRank struct {
	GarageID  string `json:"garageId"`
	Name      string `json:"name,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

type Activity struct {
	RequestID      string        `json:"requestId"`
	RequesterName  string        `json:"requesterName"`
	RequesterPhone string        `json:"requesterPhone"`
	Status         models.Status `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Report is a read-only snapshot of the ledger over [From, To).
type Report struct {
	GarageID string    `json:"garageId,omitempty"`
	Period   Period    `json:"period"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`

	Total  int                   `json:"total"`
	Counts map[models.Status]int `json:"counts"`

	SentSuccess int `json:"sentSuccess"`
	Accepted    int `json:"accepted"`
	Completed   int `json:"completed"`
	Declined    int `json:"declined"`
	Expired     int `json:"expired"`
	Canceled    int `json:"canceled"`
	Errors      int `json:"errors"`
	NoGarage    int `json:"noGarage"`

	AcceptanceRate float64 `json:"acceptanceRate"`
	CompletionRate float64 `json:"completionRate"`
	SuccessRate    float64 `json:"successRate"`
	ErrorRate      float64 `json:"errorRate"`

	TopGarages     []GarageRank `json:"topGarages,omitempty"`
	RecentActivity []Activity   `json:"recentActivity,omitempty"`
}

// Aggregator builds reports from the ledger. Registry is optional and only
// used to name the top garages.
type Aggregator struct {
	Store    storage.RequestStore
	Registry registry.GarageRegistry
	Now      func() time.Time
}

func (a *Aggregator) now() time.Time {
	if a.Now == nil {
		return time.Now().UTC()
	}
	return a.Now().UTC()
}

// Report covers one garage when garageID is set, the whole system otherwise.
func (a *Aggregator) Report(ctx context.Context, garageID string, period Period) (*Report, error) {
	win, ok := windows[period]
	if !ok {
		return nil, &models.ValidationError{Field: "period", Reason: fmt.Sprintf("unknown period %q", period)}
	}
	to := a.now()
	rep := &Report{GarageID: garageID, Period: period, From: to.Add(-win), To: to}

	reqs, err := a.Store.Query(ctx, storage.Filter{GarageID: garageID, From: rep.From, To: rep.To})
	if err != nil {
		return nil, fmt.Errorf("%w: report query: %v", models.ErrPersistence, err)
	}
	rep.tally(reqs)

	if garageID == "" {
		rep.TopGarages = a.rankGarages(ctx, reqs)
	} else {
		rep.RecentActivity = recent(reqs)
	}
	return rep, nil
}

// tally fills the counts. Funnel counts include every later stage, so a
// completed request also counts as sent and accepted.
func (r *Report) tally(reqs []models.ServiceRequest) {
	r.Total = len(reqs)
	r.Counts = make(map[models.Status]int, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		r.Counts[s] = 0
	}
	for _, q := range reqs {
		r.Counts[q.Status]++
	}
	c := r.Counts

	r.Completed = c[models.StatusServiceCompleted]
	r.Accepted = c[models.StatusGarageAccepted] + r.Completed
	r.Declined = c[models.StatusGarageDeclined]
	r.Expired = c[models.StatusExpired]
	r.Canceled = c[models.StatusDriverCanceled]
	r.SentSuccess = c[models.StatusSentSuccess] + r.Accepted + r.Declined + r.Expired + r.Canceled
	r.Errors = c[models.StatusInvalidToken] + c[models.StatusSendFailed] + c[models.StatusServerError]
	r.NoGarage = c[models.StatusNoGarageFound]

	r.AcceptanceRate = percent(r.Accepted, r.SentSuccess)
	r.CompletionRate = percent(r.Completed, r.Accepted)
	r.SuccessRate = percent(r.SentSuccess, r.Total)
	r.ErrorRate = percent(r.Errors, r.Total)
}

func percent(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*10000) / 100
}

func (a *Aggregator) rankGarages(ctx context.Context, reqs []models.ServiceRequest) []GarageRank {
	byID := map[string]*GarageRank{}
	for _, q := range reqs {
		if q.GarageID == "" {
			continue
		}
		g, ok := byID[q.GarageID]
		if !ok {
			g = &GarageRank{GarageID: q.GarageID}
			byID[q.GarageID] = g
		}
		g.Total++
		if q.Status == models.StatusServiceCompleted {
			g.Completed++
		}
	}
	ranks := make([]GarageRank, 0, len(byID))
	for _, g := range byID {
		ranks = append(ranks, *g)
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Completed != ranks[j].Completed {
			return ranks[i].Completed > ranks[j].Completed
		}
		return ranks[i].GarageID < ranks[j].GarageID
	})
	if len(ranks) > topGaragesN {
		ranks = ranks[:topGaragesN]
	}
	if a.Registry != nil {
		for i := range ranks {
			if g, err := a.Registry.GetByID(ctx, ranks[i].GarageID); err == nil {
				ranks[i].Name = g.Name
			}
		}
	}
	return ranks
}

// recent expects reqs newest first, as Query returns them.
func recent(reqs []models.ServiceRequest) []Activity {
	n := min(len(reqs), recentActivityN)
	out := make([]Activity, n)
	for i := 0; i < n; i++ {
		q := reqs[i]
		out[i] = Activity{RequestID: q.ID, RequesterName: q.RequesterName, RequesterPhone: q.RequesterPhone, Status: q.Status, CreatedAt: q.CreatedAt}
	}
	return out
}
