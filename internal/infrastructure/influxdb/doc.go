// Package influxdb writes access-server metrics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health monitoring.
//
// # Measurements
//
//   - access_sync: per-batch reconciliation counts, tagged by class
//   - access_retention: rows removed by each retention purge
//   - access_gate: rejected requests, tagged by rejection code
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteGateRejection("forbidden", time.Now())
//
// Write methods are no-ops on a nil or closed client, so callers can hold
// a nil *Client when InfluxDB is disabled.
package influxdb
