package petlibro

import (
	"encoding/json"
	"fmt"
)

// Defaults applied when the vendor omits a field.
const (
	DefaultDeviceName = "PetLibro Device"
	DefaultModel      = "Smart Device"
	DefaultFirmware   = "1.0.0"
)

// RemoteDevice is one record from the device list.
//
// The vendor is inconsistent about field names, so decoding accepts every
// alias seen in the wild. Empty fields mean the record carried none of them.
type RemoteDevice struct {
	Serial      string
	Name        string
	ProductName string
	Firmware    string

	// Raw is the record as received, kept for the entity snapshot.
	Raw json.RawMessage
}

var (
	serialKeys   = []string{"deviceSn", "device_id", "deviceId", "id", "serial"}
	nameKeys     = []string{"deviceName", "device_name", "name"}
	productKeys  = []string{"productName", "product_name", "model"}
	firmwareKeys = []string{"firmwareVersion", "firmware_version"}
)

// UnmarshalJSON implements json.Unmarshaler.
func (d *RemoteDevice) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decoding device record: %w", err)
	}

	*d = RemoteDevice{
		Serial:      firstString(fields, serialKeys),
		Name:        firstString(fields, nameKeys),
		ProductName: firstString(fields, productKeys),
		Firmware:    firstString(fields, firmwareKeys),
		Raw:         append(json.RawMessage(nil), data...),
	}
	return nil
}

// MarshalJSON returns the raw record, so a snapshot round-trips unchanged.
func (d RemoteDevice) MarshalJSON() ([]byte, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	return json.Marshal(map[string]string{
		"deviceSn":        d.Serial,
		"deviceName":      d.Name,
		"productName":     d.ProductName,
		"firmwareVersion": d.Firmware,
	})
}

// DisplayName returns the device name or DefaultDeviceName.
func (d RemoteDevice) DisplayName() string {
	if d.Name == "" {
		return DefaultDeviceName
	}
	return d.Name
}

// Model returns the product name or DefaultModel.
func (d RemoteDevice) Model() string {
	if d.ProductName == "" {
		return DefaultModel
	}
	return d.ProductName
}

// FirmwareVersion returns the firmware version or DefaultFirmware.
func (d RemoteDevice) FirmwareVersion() string {
	if d.Firmware == "" {
		return DefaultFirmware
	}
	return d.Firmware
}

// firstString returns the first key present with a non-empty value.
// Numeric IDs are accepted and rendered in decimal.
func firstString(fields map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n != "" && n != "0" {
			return n.String()
		}
	}
	return ""
}

// Telemetry is the realInfo payload for one device.
type Telemetry struct {
	fields map[string]json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler for a realInfo data object.
func (t *Telemetry) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decoding telemetry: %w", err)
	}
	t.fields = fields
	return nil
}

// WaterLevel returns weightPercent when it is a JSON number.
// The value is not clamped here.
func (t Telemetry) WaterLevel() (float64, bool) {
	raw, ok := t.fields["weightPercent"]
	if !ok || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}
