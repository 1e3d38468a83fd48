package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordDispatch writes one dispatch outcome.
//
// The router calls this for every command regardless of outcome, so the
// series doubles as a request counter. Channel and status are tags (both
// low cardinality), the duration is the field.
//
// Parameters:
//   - channel: originating adapter (mcp, telegram, scheduler, webpanel, mqtt)
//   - status: dispatch outcome (ok, ambiguous, not_found, controller_error, timeout)
//   - duration: resolve through controller response
func (c *Client) RecordDispatch(channel, status string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"dispatch_metrics",
		map[string]string{
			"channel": channel,
			"status":  status,
		},
		map[string]interface{}{
			"duration_ms": float64(duration.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom measurement. Used for ad hoc operational
// metrics that don't fit the dispatch series.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
