// Package influxdb records PetLibro device history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 non-blocking write API.
// Two series are written:
//   - water_level: fountain reservoir percentage after every successful poll
//   - feed: one point per manual feed attempt with portions and an accepted flag
//
// Both carry entity_id, kind and serial tags.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceMetric(influxdb.DeviceTags{EntityID: id, Kind: "fountain", Serial: sn}, "water_level", 64)
//
// Writes are batched per batch_size/flush_interval and never block the
// caller; asynchronous failures are delivered to the SetOnError callback.
package influxdb
