package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementWaterLevel = "water_level"
	MeasurementFeed       = "feed"
)

// DeviceTags identifies the device a point belongs to.
type DeviceTags struct {
	EntityID string
	Kind     string
	Serial   string
}

func (t DeviceTags) tags() map[string]string {
	return map[string]string{
		"entity_id": t.EntityID,
		"kind":      t.Kind,
		"serial":    t.Serial,
	}
}

// WriteDeviceMetric records one numeric value for a device. Non-blocking;
// dropped silently when the client is closed.
//
// Example:
//
//	client.WriteDeviceMetric(tags, influxdb.MeasurementWaterLevel, 64)
func (c *Client) WriteDeviceMetric(device DeviceTags, measurement string, value float64) {
	c.WritePoint(measurement, device.tags(), map[string]any{"value": value}, time.Now())
}

// WriteFeedEvent records a manual feed and whether the vendor accepted it.
func (c *Client) WriteFeedEvent(device DeviceTags, portions int, accepted bool) {
	c.WritePoint(MeasurementFeed, device.tags(), map[string]any{
		"portions": portions,
		"accepted": accepted,
	}, time.Now())
}

// WritePoint writes a point with explicit tags, fields and timestamp.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
