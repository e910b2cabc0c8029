package metrics_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wader/ffsprite/internal/metrics"
)

func TestWriteTextfile(t *testing.T) {
	metrics.FramesSampledTotal.Add(3)
	metrics.SheetsGeneratedTotal.WithLabelValues("ok").Inc()

	p := filepath.Join(t.TempDir(), "ffsprite.prom")
	require.NoError(t, metrics.WriteTextfile(p))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), "ffsprite_frames_sampled_total")
	assert.Contains(t, string(b), `ffsprite_sheets_generated_total{status="ok"}`)
}
