package wire

import "testing"

func TestPutGetFixedString_RoundTrip(t *testing.T) {
	buf := make([]byte, DestinationSize)
	if err := PutFixedString(buf, DestinationSize, "userA"); err != nil {
		t.Fatalf("PutFixedString failed: %v", err)
	}
	if got := GetFixedString(buf); got != "userA" {
		t.Errorf("GetFixedString = %q, want %q", got, "userA")
	}
}

func TestPutFixedString_ExactWidth(t *testing.T) {
	s := make([]byte, DestinationSize)
	for i := range s {
		s[i] = 'a'
	}
	buf := make([]byte, DestinationSize)
	if err := PutFixedString(buf, DestinationSize, string(s)); err != nil {
		t.Fatalf("exact-width string should fit: %v", err)
	}
	if got := GetFixedString(buf); got != string(s) {
		t.Errorf("round trip at exact width failed")
	}
}

func TestPutFixedString_Overflow(t *testing.T) {
	s := make([]byte, DestinationSize+1)
	for i := range s {
		s[i] = 'a'
	}
	buf := make([]byte, DestinationSize)
	if err := PutFixedString(buf, DestinationSize, string(s)); err != ErrFieldOverflow {
		t.Errorf("expected ErrFieldOverflow, got %v", err)
	}
}

func TestGetFixedString_EmptyField(t *testing.T) {
	buf := make([]byte, OriginSize)
	if got := GetFixedString(buf); got != "" {
		t.Errorf("GetFixedString on all-null field = %q, want empty", got)
	}
}

func TestPutFixedString_NonUTF8(t *testing.T) {
	buf := make([]byte, DestinationSize)
	bad := string([]byte{0xff, 0xfe, 0xfd})
	if err := PutFixedString(buf, DestinationSize, bad); err != ErrFieldOverflow {
		t.Errorf("expected ErrFieldOverflow for invalid UTF-8, got %v", err)
	}
}
