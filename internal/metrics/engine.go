package metrics

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var (
	playersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "active",
		Help:      "Looping players currently bound to a surface",
	})

	playersAudible = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "audible",
		Help:      "Players currently holding the audio",
	})

	slotWaitTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "slot",
		Name:      "wait_timeouts_total",
		Help:      "Preview callbacks that gave up waiting for the first decoded frame",
	})

	sessionBindings = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "bindings",
		Help:      "Decoders and players bound to a camera session",
	}, []string{"session"})
)

// PlayerStarted records a player start.
func PlayerStarted() { playersActive.Inc() }

// PlayerStopped records a player stop.
func PlayerStopped() { playersActive.Dec() }

// SetAudiblePlayers sets the number of players holding audio (0 or 1).
func SetAudiblePlayers(n int) { playersAudible.Set(float64(n)) }

// SlotWaitTimeout counts a callback that timed out on an empty slot.
func SlotWaitTimeout() { slotWaitTimeouts.Inc() }

// SetSessionBindings sets the binding count for a session.
func SetSessionBindings(session string, n int) {
	sessionBindings.WithLabelValues(session).Set(float64(n))
}

// SessionBindings returns the binding gauge of a session.
func SessionBindings(session string) prometheus.Gauge {
	return sessionBindings.WithLabelValues(session)
}

// DeleteSession drops a session's series.
func DeleteSession(session string) {
	sessionBindings.DeleteLabelValues(session)
}

// WriteText writes every registered virtualcam metric family in the
// Prometheus text format.
func WriteText(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), namespace+"_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
