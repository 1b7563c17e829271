// Package influxdb records the history of the shared assistant state in
// InfluxDB.
//
// Every committed change produces two points:
//   - assistant_change: action and requester of the change
//   - assistant_state: volumen, led_brightness, tts_rate and mute after it
//
// A statehub_runtime point with connection counts is written on each
// sampling tick.
//
// Points pass through a bounded queue drained by one goroutine, so the
// store's observers never wait on the network. Write errors are reported
// asynchronously through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, store.Get())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	defer store.Subscribe(client.Observe)()
package influxdb
