// Package influxdb writes simulated time series to InfluxDB v2.
//
// Every numeric field of every entity state is written once per tick, stamped
// with the simulated instant rather than wall-clock time, so a one-year run
// fast-forwarded in minutes lands on the right dates in dashboards.
//
// Writes go through the client's non-blocking, batched write API. Failures
// are delivered asynchronously to the callback set with SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // skip
//	}
//	defer client.Close()
//
//	client.WriteEntityState("house1/", "battery-1", "battery",
//	    map[string]any{"soc": 0.42}, simTime)
package influxdb
