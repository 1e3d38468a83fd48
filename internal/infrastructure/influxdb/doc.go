// Package influxdb records dispatch telemetry.
//
// Every routed command produces one point in the dispatch_metrics
// measurement, tagged by channel and status, with the end-to-end duration
// as the field. Writes go through the non-blocking batched API so a slow or
// absent InfluxDB never stalls command handling.
package influxdb
