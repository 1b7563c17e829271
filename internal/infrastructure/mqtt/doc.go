// Package mqtt connects statehub to the device bus.
//
// Devices on the LAN that cannot poll HTTP (LED rings, microcontrollers)
// follow the shared record over MQTT instead. The client keeps one broker
// connection with auto-reconnect, restores its subscriptions after a
// reconnect and announces itself on {prefix}/system/status, with a Last
// Will so devices notice a crash.
//
// All topics live under a configurable prefix (default "statehub"); see
// Topics for the layout.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(client.Topics().State(), snapshot, client.QoS(), true)
package mqtt
