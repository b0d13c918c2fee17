package frame

import (
	"encoding/binary"
	"fmt"
)

const (
	weightMinLen = 5
	weightScale  = 0.01
)

// WeightReading denotes a weight measurement as reported by the scale. Weights
// are transmitted as signed fixed-point values in units of 0.01 kg / lb
type WeightReading struct {
	KgRaw   int16
	LbRaw   int16
	Stable  bool
	Trailer []byte
}

func (WeightReading) isPayload() {}

// Kg returns the weight in kilograms
func (w WeightReading) Kg() float64 {
	return float64(w.KgRaw) * weightScale
}

// Lb returns the weight in pounds
func (w WeightReading) Lb() float64 {
	return float64(w.LbRaw) * weightScale
}

// Bytes encodes the reading back into its payload representation
func (w WeightReading) Bytes() []byte {
	buf := make([]byte, weightMinLen, weightMinLen+len(w.Trailer))
	binary.BigEndian.PutUint16(buf[0:2], uint16(w.KgRaw))
	binary.BigEndian.PutUint16(buf[2:4], uint16(w.LbRaw))
	if w.Stable {
		buf[4] = 0x01
	}

	return append(buf, w.Trailer...)
}

// String returns a human readable representation of the reading
func (w WeightReading) String() string {
	return fmt.Sprintf("Weight(kg=%.2f, lb=%.2f, stable=%v, trailer=% X)", w.Kg(), w.Lb(), w.Stable, w.Trailer)
}

func decodeWeightReading(data []byte) (WeightReading, error) {
	if len(data) < weightMinLen {
		return WeightReading{}, fmt.Errorf("%w: weight payload of %d bytes is shorter than %d bytes", ErrMalformedFrame, len(data), weightMinLen)
	}

	trailer := make([]byte, len(data)-weightMinLen)
	copy(trailer, data[weightMinLen:])

	return WeightReading{
		KgRaw:   int16(binary.BigEndian.Uint16(data[0:2])),
		LbRaw:   int16(binary.BigEndian.Uint16(data[2:4])),
		Stable:  data[4] != 0x00,
		Trailer: trailer,
	}, nil
}
