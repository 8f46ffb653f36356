// Package history keeps a rolling, date-keyed window of daily usage peaks.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/theirongolddev/claude-usage-tracker/internal/atomicfile"
	"github.com/theirongolddev/claude-usage-tracker/internal/model"
)

// DateLayout is the key format of the history document.
const DateLayout = "2006-01-02"

// DefaultWindowDays is how many days of history are retained.
const DefaultWindowDays = 7

// Entry is one day of history. Session is the highest session percentage
// seen that day; Weekly is the most recent weekly percentage.
type Entry struct {
	Session float64 `json:"session"`
	Weekly  float64 `json:"weekly"`
}

// Days maps a date key to its entry. It is the on-disk history document.
type Days map[string]Entry

// Parse decodes a history document. Anything unreadable yields an empty map.
func Parse(data []byte) Days {
	var days Days
	if err := json.Unmarshal(data, &days); err != nil || days == nil {
		return Days{}
	}
	return days
}

// Apply folds snap into the existing document and returns the pruned
// document together with its display array.
func Apply(existing []byte, snap model.Snapshot, now time.Time, windowDays int) (Days, []model.DayBar) {
	days := Parse(existing)

	today := now.Format(DateLayout)
	entry := days[today]
	entry.Session = max(entry.Session, snap.Session.Used)
	entry.Weekly = snap.Weekly.Used
	days[today] = entry

	days = days.Prune(now, windowDays)
	return days, days.Display()
}

// Prune drops entries whose key is not a date, lies after now, or is older
// than windowDays × 24h before now.
func (d Days) Prune(now time.Time, windowDays int) Days {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	window := time.Duration(windowDays) * 24 * time.Hour

	return lo.PickBy(d, func(key string, _ Entry) bool {
		day, err := time.ParseInLocation(DateLayout, key, now.Location())
		if err != nil {
			return false
		}
		return !day.After(now) && now.Sub(day) <= window
	})
}

// Display returns the entries in ascending date order for the widget chart.
func (d Days) Display() []model.DayBar {
	keys := lo.Keys(d)
	slices.Sort(keys)

	return lo.FilterMap(keys, func(key string, _ int) (model.DayBar, bool) {
		day, err := time.Parse(DateLayout, key)
		if err != nil {
			return model.DayBar{}, false
		}
		return model.DayBar{
			Day:     day.Format("Mon"),
			Date:    key,
			Percent: d[key].Session,
		}, true
	})
}

// Tracker persists the history document at a fixed path.
type Tracker struct {
	path       string
	windowDays int
	now        func() time.Time
}

// NewTracker returns a Tracker for the document at path.
func NewTracker(path string, windowDays int) *Tracker {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Tracker{path: path, windowDays: windowDays, now: time.Now}
}

// Path returns the location of the history document.
func (t *Tracker) Path() string {
	return t.path
}

// Update records snap, persists the pruned document and returns the display
// array. A returned error only reports that persisting failed; the display
// array is valid either way.
func (t *Tracker) Update(snap model.Snapshot) ([]model.DayBar, error) {
	days, bars := Apply(t.read(), snap, t.now(), t.windowDays)
	if err := atomicfile.WriteJSON(t.path, days, 0o600); err != nil {
		return bars, fmt.Errorf("writing history: %w", err)
	}
	return bars, nil
}

// Display returns the stored history without recording anything.
func (t *Tracker) Display() []model.DayBar {
	return Parse(t.read()).Prune(t.now(), t.windowDays).Display()
}

// read returns the raw document; a missing or unreadable file reads as empty.
func (t *Tracker) read() []byte {
	data, _ := os.ReadFile(t.path)
	return data
}
