// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/dirigent-project/dirigent/lib/clock"
	"github.com/dirigent-project/dirigent/lib/event"
	"github.com/dirigent-project/dirigent/lib/supervisor"
	"github.com/dirigent-project/dirigent/lib/telemetry"
	"github.com/dirigent-project/dirigent/lib/wire"
)

// combinedCollector merges the daemon's metric sources into one
// telemetry collector: supervisor process population, bus counters,
// and wire server activity. wireServer may be nil when the wire is
// disabled.
func combinedCollector(clk clock.Clock, bus *event.Bus, sup *supervisor.Supervisor, wireServer *wire.Server) telemetry.Collector {
	supervisorPoints := sup.MetricsCollector()
	return func() []telemetry.MetricPoint {
		now := clk.Now()
		points := supervisorPoints()

		busMetrics := bus.Metrics()
		points = append(points,
			telemetry.MetricPoint{Name: "bus.emitted_total", Value: float64(busMetrics.Emitted), Time: now},
			telemetry.MetricPoint{Name: "bus.delivered_total", Value: float64(busMetrics.Delivered), Time: now},
			telemetry.MetricPoint{Name: "bus.failed_total", Value: float64(busMetrics.Failed), Time: now},
			telemetry.MetricPoint{Name: "bus.timed_out_total", Value: float64(busMetrics.TimedOut), Time: now},
			telemetry.MetricPoint{Name: "bus.listeners", Value: float64(busMetrics.ExactListeners + busMetrics.WildcardListeners), Time: now},
			telemetry.MetricPoint{Name: "bus.history_length", Value: float64(busMetrics.HistoryLength), Time: now},
		)

		if wireServer != nil {
			points = append(points,
				telemetry.MetricPoint{Name: "wire.clients", Value: float64(wireServer.ActiveClients()), Time: now},
				telemetry.MetricPoint{Name: "wire.dropped_total", Value: float64(wireServer.Dropped()), Time: now},
			)
		}
		return points
	}
}
