package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultActiveWindow is how long after its last fix a storm is still
// considered active.
const DefaultActiveWindow = 16 * time.Hour

// BestTrackFix is one parsed best-track record as emitted by the upstream
// bulletin parser. Coordinates are already signed decimal degrees.
type BestTrackFix struct {
	Basin     string    `json:"basin"`
	Number    int       `json:"number"`
	Season    int       `json:"season,omitempty"`
	Time      time.Time `json:"time"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	MaxWind   int       `json:"max_wind"`
	Pressure  int       `json:"pressure,omitempty"`
	Name      string    `json:"name,omitempty"`
	Subregion string    `json:"subregion,omitempty"`
}

// NormalizeOptions controls status derivation.
type NormalizeOptions struct {
	Now          time.Time
	ActiveWindow time.Duration
}

// NormalizeStorm collapses a batch of fixes for one disturbance into a
// CandidateStorm. RegionID is left unresolved for the caller to fill in.
func NormalizeStorm(fixes []BestTrackFix, opts NormalizeOptions) (CandidateStorm, error) {
	if len(fixes) == 0 {
		return CandidateStorm{}, ErrEmptyBatch
	}

	sorted := make([]BestTrackFix, len(fixes))
	copy(sorted, fixes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	basin := strings.ToUpper(strings.TrimSpace(sorted[0].Basin))
	number := sorted[0].Number
	if basin == "" {
		return CandidateStorm{}, fmt.Errorf("%w: missing basin", ErrMalformedCandidate)
	}
	class, err := ClassifyNumber(number)
	if err != nil {
		return CandidateStorm{}, err
	}

	var (
		peakWind  int
		name      string
		subregion string
	)
	for i, f := range sorted {
		if !strings.EqualFold(strings.TrimSpace(f.Basin), basin) || f.Number != number {
			return CandidateStorm{}, fmt.Errorf("%w: fix %d is %s%02d, batch is %s%02d",
				ErrMalformedCandidate, i, f.Basin, f.Number, basin, number)
		}
		if f.Time.IsZero() {
			return CandidateStorm{}, fmt.Errorf("%w: fix %d has no time", ErrMalformedCandidate, i)
		}
		if err := (GeoPoint{Lat: f.Lat, Lon: f.Lon}).Validate(); err != nil {
			return CandidateStorm{}, fmt.Errorf("%w: fix %d: %w", ErrMalformedCandidate, i, err)
		}
		if f.MaxWind > peakWind {
			peakWind = f.MaxWind
		}
		// The latest non-empty name and subregion win.
		if n := strings.TrimSpace(f.Name); n != "" {
			name = n
		}
		if s := strings.TrimSpace(f.Subregion); s != "" {
			subregion = s
		}
	}

	first, last := sorted[0], sorted[len(sorted)-1]
	season := first.Season
	if season == 0 {
		season = first.Time.UTC().Year()
	}

	c := CandidateStorm{
		ProvisionalKey: IdentityKey(basin, number, season),
		Basin:          basin,
		Number:         number,
		Season:         season,
		Start:          Fix{Time: first.Time.UTC(), Position: GeoPoint{Lat: first.Lat, Lon: first.Lon}},
		End:            Fix{Time: last.Time.UTC(), Position: GeoPoint{Lat: last.Lat, Lon: last.Lon}},
		DisplayName:    DisplayName(basin, number, subregion, name, peakWind),
		Status:         DeriveStatus(last.Time, opts.Now, opts.ActiveWindow),
	}
	if class == ClassNamed {
		c.IdentityKey = c.ProvisionalKey
	}
	return c, nil
}

// DeriveStatus returns Active while now is within window of the last fix.
// A zero window falls back to DefaultActiveWindow.
func DeriveStatus(end, now time.Time, window time.Duration) Status {
	if window <= 0 {
		window = DefaultActiveWindow
	}
	if now.Sub(end) <= window {
		return StatusActive
	}
	return StatusArchive
}
