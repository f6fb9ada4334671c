// Package mqtt connects the bridge to an MQTT broker, which is how home
// automation hubs see and drive PetLibro entities.
//
// This package manages:
//   - Connection with auto-reconnect and subscription restore
//   - Bridge availability on petlibro/bridge/status (LWT on crash)
//   - Retained entity descriptors and characteristic values
//   - The wildcard command subscription petlibro/entity/+/+/set
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{}
//	client.PublishJSON(topics.EntityState(id, "water_level"), 72.5)
//
// TLS should be enabled (cfg.Broker.TLS) whenever the broker is not on the
// same host.
package mqtt
