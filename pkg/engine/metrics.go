package engine

import (
	"time"

	"github.com/BYTE-6D65/movement/pkg/telemetry"
)

func recordRecalculation(metrics *telemetry.Metrics, changeType string, result Result, start time.Time, err error) {
	if metrics == nil {
		return
	}

	status := "success"
	switch {
	case err != nil:
		status = "error"
	case result.Skipped:
		status = "skipped"
	}

	metrics.Recalculations.WithLabelValues(changeType, status).Inc()
	metrics.RecalcDuration.WithLabelValues(changeType).Observe(time.Since(start).Seconds())
	if err != nil {
		return
	}

	switch {
	case result.Skipped:
		metrics.IgnoredUpdates.WithLabelValues(result.Reason).Inc()
	case result.Reason != "":
		metrics.Transitions.WithLabelValues(result.Reason).Inc()
	}

	metrics.DistanceKilometers.WithLabelValues(result.Entity).Set(result.Data.Distance)
	metrics.SpeedKilometersHour.WithLabelValues(result.Entity).Set(result.Data.Speed.Or(0))
}
