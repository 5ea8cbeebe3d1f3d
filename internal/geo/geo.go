package geo

import (
	"math"
	"sort"

	"github.com/example/roadside-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

const (
	MinRadiusKm = 1.0
	MaxRadiusKm = 200.0
	MinLimit    = 1
	MaxLimit    = 50
)

// Candidate is a garage annotated with its distance from the requester.
type Candidate struct {
	Garage     models.Garage
	DistanceKm float64
}

// Haversine distance in kilometres.
func Haversine(a, b models.Coord) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

func ValidateCoord(c models.Coord) error {
	if !c.Valid() {
		return &models.ValidationError{Field: "location", Reason: "latitude must be within [-90,90] and longitude within [-180,180]"}
	}
	return nil
}

// Match picks the garage for a requester from one registry snapshot.
// With a target id the snapshot is only searched for that id. Otherwise the
// nearest garage wins; on equal distance the earlier snapshot entry is kept.
func Match(from models.Coord, snapshot []models.Garage, targetID string) (models.Garage, float64, error) {
	if err := ValidateCoord(from); err != nil {
		return models.Garage{}, 0, err
	}
	if targetID != "" {
		for _, g := range snapshot {
			if g.ID == targetID {
				return g, Haversine(from, g.Loc), nil
			}
		}
		return models.Garage{}, 0, models.ErrNotFound
	}
	if len(snapshot) == 0 {
		return models.Garage{}, 0, models.ErrNoGarageFound
	}
	best, bestDist := 0, Haversine(from, snapshot[0].Loc)
	for i := 1; i < len(snapshot); i++ {
		if d := Haversine(from, snapshot[i].Loc); d < bestDist {
			best, bestDist = i, d
		}
	}
	return snapshot[best], bestDist, nil
}

// Nearby returns every garage within radiusKm, closest first, truncated to
// limit. Radius and limit are clamped to their allowed ranges.
func Nearby(from models.Coord, snapshot []models.Garage, radiusKm float64, limit int) ([]Candidate, error) {
	if err := ValidateCoord(from); err != nil {
		return nil, err
	}
	radiusKm = ClampRadius(radiusKm)
	limit = ClampLimit(limit)

	out := make([]Candidate, 0, len(snapshot))
	for _, g := range snapshot {
		d := Haversine(from, g.Loc)
		if d > radiusKm {
			continue
		}
		out = append(out, Candidate{Garage: g, DistanceKm: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].DistanceKm = Round2(out[i].DistanceKm)
	}
	return out, nil
}

func ClampRadius(km float64) float64 {
	if math.IsNaN(km) || km < MinRadiusKm {
		return MinRadiusKm
	}
	if km > MaxRadiusKm {
		return MaxRadiusKm
	}
	return km
}

func ClampLimit(n int) int {
	if n < MinLimit {
		return MinLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
