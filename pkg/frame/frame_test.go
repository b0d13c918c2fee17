package frame

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

// Frame as captured from an ESF37 scale
var capturedFrame = []byte{0xFE, 0xEF, 0xC0, 0xA3, 0xD0, 0x08, 0x25, 0x26, 0x51, 0xE0, 0x01, 0x00, 0x00, 0x00, 0x55}

func TestDecodeCapturedFrame(t *testing.T) {
	f, err := Decode(capturedFrame)
	if err != nil {
		t.Fatalf("failed to decode frame: %s", err)
	}

	if f.Header != HeaderWeight {
		t.Fatalf("unexpected header: %s", f.Header)
	}
	if f.Header.String() != "FEEFC0A3D0" {
		t.Fatalf("unexpected hex header: %s", f.Header.String())
	}
	if f.Length != 8 || f.Size() != len(capturedFrame) {
		t.Fatalf("unexpected length %d / size %d", f.Length, f.Size())
	}
	if f.Checksum != 0x55 {
		t.Fatalf("unexpected checksum: 0x%02X", f.Checksum)
	}

	w, ok := f.Payload.(WeightReading)
	if !ok {
		t.Fatalf("unexpected payload type %T", f.Payload)
	}
	if w.KgRaw != 9510 || math.Abs(w.Kg()-95.10) > 1e-9 {
		t.Fatalf("unexpected weight: %d / %v", w.KgRaw, w.Kg())
	}
	if w.LbRaw != 0x51E0 {
		t.Fatalf("unexpected imperial weight: %d", w.LbRaw)
	}
	if !w.Stable {
		t.Fatalf("expected reading to be stable")
	}
	if !bytes.Equal(w.Trailer, []byte{0x00, 0x00, 0x00}) {
		t.Fatalf("unexpected trailer: % X", w.Trailer)
	}
}

func TestWeightRoundTrip(t *testing.T) {
	for _, ref := range []WeightReading{
		{KgRaw: 0, LbRaw: 0, Stable: false, Trailer: []byte{}},
		{KgRaw: 9510, LbRaw: 20966, Stable: true, Trailer: []byte{0x00, 0x00, 0x00}},
		{KgRaw: -150, LbRaw: -331, Stable: true, Trailer: []byte{}},
		{KgRaw: math.MaxInt16, LbRaw: math.MinInt16, Stable: false, Trailer: []byte{0xAB}},
	} {
		f, err := Decode(Encode(HeaderWeight, ref.Bytes()))
		if err != nil {
			t.Fatalf("failed to decode encoded reading %v: %s", ref, err)
		}
		w, ok := f.Payload.(WeightReading)
		if !ok {
			t.Fatalf("unexpected payload type %T", f.Payload)
		}
		if w.KgRaw != ref.KgRaw || w.LbRaw != ref.LbRaw || w.Stable != ref.Stable || !bytes.Equal(w.Trailer, ref.Trailer) {
			t.Fatalf("round trip mismatch: have %v, want %v", w, ref)
		}
	}
}

func TestStableFlag(t *testing.T) {
	for flag, expected := range map[byte]bool{
		0x00: false,
		0x01: true,
		0x02: true,
		0xFF: true,
	} {
		buf := append([]byte{}, capturedFrame...)
		buf[10] = flag

		f, err := Decode(buf)
		if err != nil {
			t.Fatalf("failed to decode frame: %s", err)
		}
		if stable := f.Payload.(WeightReading).Stable; stable != expected {
			t.Fatalf("stability flag 0x%02X: have %v, want %v", flag, stable, expected)
		}
	}
}

func TestTruncatedFrames(t *testing.T) {
	for i := 0; i < len(capturedFrame); i++ {
		_, err := Decode(capturedFrame[:i])
		if !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("expected malformed frame error for %d byte buffer, got %v", i, err)
		}
	}
}

func TestShortWeightPayload(t *testing.T) {
	for i := 0; i < weightMinLen; i++ {
		_, err := Decode(Encode(HeaderWeight, make([]byte, i)))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("expected malformed frame error for %d byte weight payload, got %v", i, err)
		}
	}
}

func TestUnknownHeader(t *testing.T) {
	header := Header{0xFE, 0xEF, 0xC0, 0xA2, 0xD0}
	payload := []byte{0x25, 0x26, 0x51, 0xE0, 0x01}

	f, err := Decode(Encode(header, payload))
	if err != nil {
		t.Fatalf("failed to decode frame with unknown header: %s", err)
	}
	raw, ok := f.Payload.(Raw)
	if !ok {
		t.Fatalf("unexpected payload type %T", f.Payload)
	}
	if !bytes.Equal(raw, payload) {
		t.Fatalf("unexpected raw payload: % X", raw)
	}
	if _, isWeight := f.Payload.(WeightReading); isWeight {
		t.Fatalf("raw payload unexpectedly matched weight reading")
	}
}

func TestEmptyPayload(t *testing.T) {
	f, err := Decode([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x00, 0x0F})
	if err != nil {
		t.Fatalf("failed to decode minimal frame: %s", err)
	}
	if f.Length != 0 || len(f.Payload.(Raw)) != 0 || f.Checksum != 0x0F {
		t.Fatalf("unexpected minimal frame: %v", f)
	}
}

func TestChecksumNotVerified(t *testing.T) {
	buf := append([]byte{}, capturedFrame...)
	buf[len(buf)-1] ^= 0xFF

	if _, err := Decode(buf); err != nil {
		t.Fatalf("frame with modified checksum unexpectedly rejected: %s", err)
	}
}
