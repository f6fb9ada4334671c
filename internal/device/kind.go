package device

import (
	"fmt"
	"strings"
)

// Kind is the closed set of device variants the bridge drives.
type Kind string

const (
	KindFeeder   Kind = "feeder"
	KindFountain Kind = "fountain"
)

// kindDefaults are the name and model shown for a device whose record
// carries neither.
var kindDefaults = map[Kind]struct{ name, model string }{
	KindFeeder:   {name: "Pet Feeder", model: "Smart Feeder"},
	KindFountain: {name: "Water Fountain", model: "Smart Fountain"},
}

// fountainMarkers identify water fountains by product name or serial prefix.
var fountainMarkers = []string{"plwf", "dockstream", "fountain"}

// Classify returns the device kind for a vendor record. A marker appearing
// anywhere in the product name, or at the start of the serial, means a
// fountain; matching ignores case. Everything else is a feeder.
func Classify(productName, serial string) Kind {
	product := strings.ToLower(productName)
	sn := strings.ToLower(serial)
	for _, m := range fountainMarkers {
		if strings.Contains(product, m) || strings.HasPrefix(sn, m) {
			return KindFountain
		}
	}
	return KindFeeder
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindFeeder || k == KindFountain
}

// ParseKind converts a stored kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}
