package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseReceivableType(t *testing.T) {
	for _, rt := range AllReceivableTypes() {
		parsed, err := ParseReceivableType(string(rt))
		if err != nil {
			t.Fatalf("ParseReceivableType(%q): %v", rt, err)
		}
		if parsed != rt {
			t.Fatalf("ParseReceivableType(%q) = %q", rt, parsed)
		}
	}

	_, err := ParseReceivableType("Voucher")
	if !errors.Is(err, ErrUnknownReceivableType) {
		t.Fatalf("expected ErrUnknownReceivableType, got %v", err)
	}
}

func TestSaleTypeUnmarshal(t *testing.T) {
	var st SaleType
	if err := json.Unmarshal([]byte(`"Refill"`), &st); err != nil {
		t.Fatal(err)
	}
	if st != SaleTypeRefill {
		t.Fatalf("expected Refill, got %q", st)
	}
	if err := json.Unmarshal([]byte(`"refill"`), &st); err == nil {
		t.Fatal("sale types are case sensitive; expected error")
	}
}

func TestSnapshotTypeUnmarshal(t *testing.T) {
	for _, want := range []SnapshotType{SnapshotTypeOnboarding, SnapshotTypeManual, SnapshotTypePeriodic} {
		var st SnapshotType
		if err := json.Unmarshal([]byte(`"`+string(want)+`"`), &st); err != nil {
			t.Fatalf("unmarshal %q: %v", want, err)
		}
		if st != want {
			t.Fatalf("expected %q, got %q", want, st)
		}
	}
	var st SnapshotType
	if err := json.Unmarshal([]byte(`"Weekly"`), &st); err == nil {
		t.Fatal("expected error for unknown snapshot type")
	}
}

func TestDriverTypeUnmarshal(t *testing.T) {
	var dt DriverType
	if err := json.Unmarshal([]byte(`"Shipment"`), &dt); err != nil {
		t.Fatal(err)
	}
	if dt != DriverTypeShipment {
		t.Fatalf("expected Shipment, got %q", dt)
	}
	if err := json.Unmarshal([]byte(`"Courier"`), &dt); err == nil {
		t.Fatal("expected error for unknown driver type")
	}
}
