// Package frame decodes the binary notification frames sent by the scale.
//
// A frame consists of a 5 byte header identifying the payload type, a single
// length byte, the payload itself and a trailing checksum byte:
//
//	| header (5) | length (1) | payload (length) | checksum (1) |
//
// Payloads with a known header are decoded into a typed variant, all others
// are passed through as Raw.
package frame

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	headerLen   = 5
	lengthLen   = 1
	checksumLen = 1

	// MinLen denotes the size of a frame carrying an empty payload
	MinLen = headerLen + lengthLen + checksumLen
)

// ErrMalformedFrame is returned if a buffer is shorter than the frame it declares
var ErrMalformedFrame = errors.New("malformed frame")

// Header denotes the 5 byte header identifying the payload type of a frame
type Header [headerLen]byte

// HeaderWeight denotes a frame carrying a weight reading
var HeaderWeight = Header{0xFE, 0xEF, 0xC0, 0xA3, 0xD0}

// String returns the upper-case hex representation of the header
func (h Header) String() string {
	return strings.ToUpper(hex.EncodeToString(h[:]))
}

// Payload denotes a (typed) frame payload
type Payload interface {
	isPayload()
}

// Raw denotes a payload for which no decoder is known
type Raw []byte

func (Raw) isPayload() {}

// Frame denotes a single decoded frame
type Frame struct {
	Header   Header
	Length   int
	Payload  Payload
	Checksum byte
}

// Size returns the number of bytes the frame occupies on the wire
func (f Frame) Size() int {
	return MinLen + f.Length
}

// String returns a human readable representation of the frame (for logging)
func (f Frame) String() string {
	return fmt.Sprintf("Frame(header=%s, length=%d, payload=%v, checksum=0x%02X)", f.Header, f.Length, f.Payload, f.Checksum)
}

// Decode parses a raw buffer into a Frame. The checksum is recorded as-is and
// not verified
func Decode(buf []byte) (Frame, error) {

	if len(buf) < MinLen {
		return Frame{}, fmt.Errorf("%w: buffer of %d bytes is shorter than the minimum frame size of %d bytes", ErrMalformedFrame, len(buf), MinLen)
	}

	var f Frame
	copy(f.Header[:], buf[:headerLen])
	f.Length = int(buf[headerLen])
	if len(buf) < f.Size() {
		return Frame{}, fmt.Errorf("%w: buffer of %d bytes is shorter than the declared frame size of %d bytes", ErrMalformedFrame, len(buf), f.Size())
	}
	f.Checksum = buf[len(buf)-1]

	start := headerLen + lengthLen
	payload, err := decodePayload(f.Header, buf[start:start+f.Length])
	if err != nil {
		return Frame{}, err
	}
	f.Payload = payload

	return f, nil
}

// Encode builds a frame from a header and a payload, appending a checksum
// computed as the low byte of the sum of all preceding bytes
func Encode(h Header, payload []byte) []byte {
	if len(payload) > 0xFF {
		payload = payload[:0xFF]
	}

	buf := make([]byte, 0, MinLen+len(payload))
	buf = append(buf, h[:]...)
	buf = append(buf, byte(len(payload)))
	buf = append(buf, payload...)

	var sum byte
	for _, b := range buf {
		sum += b
	}

	return append(buf, sum)
}

////////////////////////////////////////////////////////////////////////////////

func decodePayload(h Header, data []byte) (Payload, error) {
	switch h {
	case HeaderWeight:
		return decodeWeightReading(data)
	default:
		raw := make(Raw, len(data))
		copy(raw, data)
		return raw, nil
	}
}
