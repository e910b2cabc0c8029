// Package metrics holds the prometheus collectors for extraction and packing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ffsprite_frames_sampled_total",
		Help: "Total number of frames captured from sources",
	})

	ExtractionsTruncatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ffsprite_extractions_truncated_total",
		Help: "Extractions that stopped at the frame cap before the end of the window",
	})

	SheetsGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffsprite_sheets_generated_total",
		Help: "Total number of sheet generations, by status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ffsprite_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"stage"})
)

// WriteTextfile dumps all registered metrics in text exposition format, for
// node_exporter textfile collection
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
