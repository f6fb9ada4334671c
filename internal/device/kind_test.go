package device

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		product string
		serial  string
		want    Kind
	}{
		{"Granary Smart Feeder", "AF0123", KindFeeder},
		{"Dockstream Smart Fountain", "X1", KindFountain},
		{"DOCKSTREAM", "X1", KindFountain},
		{"Smart Water Fountain", "X1", KindFountain},
		{"", "PLWF105ABC", KindFountain},
		{"", "plwf105abc", KindFountain},
		{"", "ABCPLWF", KindFeeder},
		{"plwf105", "", KindFountain},
		{"", "", KindFeeder},
		{"Space Feeder", "PLAF103", KindFeeder},
	}

	for _, tt := range tests {
		t.Run(tt.product+"/"+tt.serial, func(t *testing.T) {
			if got := Classify(tt.product, tt.serial); got != tt.want {
				t.Errorf("Classify(%q, %q) = %q, want %q", tt.product, tt.serial, got, tt.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"feeder", "fountain"} {
		if k, err := ParseKind(s); err != nil || string(k) != s {
			t.Errorf("ParseKind(%q) = %q, %v", s, k, err)
		}
	}
	if _, err := ParseKind("litterbox"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("ParseKind(litterbox) error = %v, want ErrInvalidKind", err)
	}
}

func TestIdentityFor(t *testing.T) {
	a := IdentityFor(KindFeeder, "AF001")
	if a != IdentityFor(KindFeeder, "AF001") {
		t.Error("IdentityFor is not deterministic")
	}
	if a == IdentityFor(KindFountain, "AF001") {
		t.Error("same serial with different kind produced the same identity")
	}
	if a == IdentityFor(KindFeeder, "AF002") {
		t.Error("different serials produced the same identity")
	}
	if len(a) != 36 {
		t.Errorf("IdentityFor() = %q, want UUID string", a)
	}
}
