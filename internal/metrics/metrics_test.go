package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chriserin/ftplan/internal/events"
	"github.com/chriserin/ftplan/internal/metrics"
)

func TestRecorder_CountsEvents(t *testing.T) {
	r := metrics.New()
	bus := events.NewBus()
	bus.Subscribe(r)

	bus.Publish(events.Event{Kind: events.RunStarted})
	bus.Publish(events.Event{Kind: events.ExecutableStarted})
	bus.Publish(events.Event{Kind: events.ExecutableFinished, Status: "passed", Duration: 20 * time.Millisecond})
	bus.Publish(events.Event{Kind: events.ExecutableFinished, Status: "passed", Duration: 30 * time.Millisecond})
	bus.Publish(events.Event{Kind: events.ExecutableFinished, Status: "skipped"})
	bus.Publish(events.Event{Kind: events.HookFailed, HookPhase: "setup"})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Runs))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Executables.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Executables.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.HookFailures.WithLabelValues("setup")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.Duration))
}

func TestRecorder_Exposition(t *testing.T) {
	r := metrics.New()
	r.OnEvent(events.Event{Kind: events.ExecutableFinished, Status: "failed", Duration: time.Second})

	expected := `
# HELP ftplan_runner_executables_total Total number of finished executable attempts by status
# TYPE ftplan_runner_executables_total counter
ftplan_runner_executables_total{status="failed"} 1
`
	err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "ftplan_runner_executables_total")
	require.NoError(t, err)
}

func TestRecorder_SeparateRegistries(t *testing.T) {
	a, b := metrics.New(), metrics.New()
	a.OnEvent(events.Event{Kind: events.RunStarted})

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Runs))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Runs))
}
