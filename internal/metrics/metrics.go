package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionStateCounter returns call session counts grouped by state.
type SessionStateCounter interface {
	CountByState(ctx context.Context) (map[string]int64, error)
}

// TurnOutcomeCounter returns conversation turn counts grouped by outcome.
type TurnOutcomeCounter interface {
	CountByOutcome(ctx context.Context) (map[string]int64, error)
}

// ArtifactStats reports the published audio artifacts on disk.
type ArtifactStats interface {
	Stats() (count int, bytes int64, err error)
}

// Collector is a prometheus.Collector that gathers Dially metrics at scrape time.
type Collector struct {
	sessions  SessionStateCounter
	turns     TurnOutcomeCounter
	artifacts ArtifactStats
	startTime time.Time

	sessionsDesc      *prometheus.Desc
	turnsDesc         *prometheus.Desc
	artifactsDesc     *prometheus.Desc
	artifactBytesDesc *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	sessions SessionStateCounter,
	turns TurnOutcomeCounter,
	artifacts ArtifactStats,
	startTime time.Time,
) *Collector {
	return &Collector{
		sessions:  sessions,
		turns:     turns,
		artifacts: artifacts,
		startTime: startTime,

		sessionsDesc: prometheus.NewDesc(
			"dially_call_sessions",
			"Number of call sessions by lifecycle state",
			[]string{"state"}, nil,
		),
		turnsDesc: prometheus.NewDesc(
			"dially_turns_total",
			"Total conversation turns processed by outcome",
			[]string{"outcome"}, nil,
		),
		artifactsDesc: prometheus.NewDesc(
			"dially_audio_artifacts",
			"Number of synthesized audio files currently published",
			nil, nil,
		),
		artifactBytesDesc: prometheus.NewDesc(
			"dially_audio_artifact_bytes",
			"Total size of published audio files",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dially_uptime_seconds",
			"Seconds since the Dially process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.turnsDesc
	ch <- c.artifactsDesc
	ch <- c.artifactBytesDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.sessions != nil {
		counts, err := c.sessions.CountByState(ctx)
		if err != nil {
			slog.Error("metrics: failed to count sessions by state", "error", err)
		} else {
			for state, n := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.sessionsDesc, prometheus.GaugeValue,
					float64(n), state,
				)
			}
		}
	}

	if c.turns != nil {
		counts, err := c.turns.CountByOutcome(ctx)
		if err != nil {
			slog.Error("metrics: failed to count turns by outcome", "error", err)
		} else {
			for outcome, n := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.turnsDesc, prometheus.CounterValue,
					float64(n), outcome,
				)
			}
		}
	}

	if c.artifacts != nil {
		count, size, err := c.artifacts.Stats()
		if err != nil {
			slog.Error("metrics: failed to stat audio artifacts", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.artifactsDesc, prometheus.GaugeValue, float64(count),
			)
			ch <- prometheus.MustNewConstMetric(
				c.artifactBytesDesc, prometheus.GaugeValue, float64(size),
			)
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
