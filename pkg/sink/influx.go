package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/fako1024/esf37/pkg/scale"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

const (
	influxMeasurement  = "weight"
	influxWriteTimeout = 10 * time.Second
)

// Influx denotes a sink writing each measurement as a point to an InfluxDB bucket
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	device   string
}

// NewInflux instantiates a new InfluxDB sink, tagging all points with the device name
func NewInflux(url, token, org, bucket, device string) *Influx {
	client := influxdb2.NewClient(url, token)

	return &Influx{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		device:   device,
	}
}

// Append writes a single measurement
func (i *Influx) Append(m scale.Measurement) error {
	point := influxdb2.NewPoint(
		influxMeasurement,
		map[string]string{
			"device": i.device,
		},
		map[string]interface{}{
			"weight_kg": m.Weight,
		},
		m.TimeStamp,
	)

	ctx, cancel := context.WithTimeout(context.Background(), influxWriteTimeout)
	defer cancel()

	if err := i.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}

	return nil
}

// Close closes the client
func (i *Influx) Close() error {
	i.client.Close()
	return nil
}
