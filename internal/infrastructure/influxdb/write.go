package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the access server.
const (
	MeasurementSync      = "access_sync"
	MeasurementRetention = "access_retention"
	MeasurementGate      = "access_gate"
)

// WriteSyncBatch records the outcome counts of one reconciled batch.
// The write is non-blocking; a nil or disconnected client drops it.
func (c *Client) WriteSyncBatch(class string, submitted, synchronized, duplicates, failed int, at time.Time) {
	c.WritePointWithTime(MeasurementSync,
		map[string]string{"class": class},
		map[string]interface{}{
			"submitted":    submitted,
			"synchronized": synchronized,
			"duplicates":   duplicates,
			"errors":       failed,
		},
		at,
	)
}

// WriteRetentionPurge records rows removed from one class. A failed class
// is written with removed=0 and failed=true.
func (c *Client) WriteRetentionPurge(class string, removed int64, failed bool, at time.Time) {
	c.WritePointWithTime(MeasurementRetention,
		map[string]string{"class": class},
		map[string]interface{}{
			"removed": removed,
			"failed":  failed,
		},
		at,
	)
}

// WriteGateRejection counts one rejected request by rejection code.
func (c *Client) WriteGateRejection(code string, at time.Time) {
	c.WritePointWithTime(MeasurementGate,
		map[string]string{"code": code},
		map[string]interface{}{"count": 1},
		at,
	)
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
