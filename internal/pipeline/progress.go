package pipeline

import (
	"fmt"
	"time"
)

// Progress is a one-way signal from a running stage to whoever renders it
type Progress struct {
	Stage   string
	Current int64
	Total   int64
	Text    string
}

// Percent returns the completion percentage, or -1 when the total is unknown
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// stageText is the progress text shown when a stage starts
var stageText = map[string]string{
	StageLocate:   "Counting files",
	StageRead:     "Reading scenery",
	StageMerge:    "Merging VOR and TACAN stations",
	StageResolve:  "Creating airway routes",
	StageValidate: "Validating",
	StageIndex:    "Creating indexes",
}

// tracker estimates the remaining time of a stage from its progress
type tracker struct {
	start time.Time
}

func newTracker() *tracker {
	return &tracker{start: time.Now()}
}

// eta returns the estimated remaining time, 0 while unknown
func (t *tracker) eta(current, total int64) time.Duration {
	if current <= 0 || total <= 0 || current >= total {
		return 0
	}
	elapsed := time.Since(t.start)
	perUnit := elapsed / time.Duration(current)
	return perUnit * time.Duration(total-current)
}

// throughput returns units per second since the tracker started
func (t *tracker) throughput(count int64) float64 {
	s := time.Since(t.start).Seconds()
	if s <= 0 {
		return 0
	}
	return float64(count) / s
}

// FormatETA formats the ETA duration in a human-readable format
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats throughput as human-readable items per second
func FormatThroughput(itemsPerSec float64) string {
	if itemsPerSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", itemsPerSec/1_000_000)
	}
	if itemsPerSec >= 1_000 {
		return fmt.Sprintf("%.1fK/s", itemsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", itemsPerSec)
}
