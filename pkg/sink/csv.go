// Package sink provides destinations for stable measurements (CSV file, SQLite
// database, MQTT broker and InfluxDB)
package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fako1024/esf37/pkg/scale"
)

// DefaultCSVPath denotes the default location of the measurement log
const DefaultCSVPath = "/mnt/data/etekcity_scale/measurements.csv"

var csvHeader = []string{"timestamp", "weight_kg"}

// CSV denotes an append-only CSV measurement log
type CSV struct {
	path string
	mu   sync.Mutex
}

// NewCSV instantiates a new CSV sink, creating the parent directory and the
// header row as required
func NewCSV(path string) (*CSV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	c := &CSV{
		path: path,
	}

	return c, c.ensureHeader()
}

// Path returns the location of the measurement log
func (c *CSV) Path() string {
	return c.path
}

// Append adds a single row to the log. The file is reopened for every append so
// external rotation / removal does not interfere
func (c *CSV) Append(m scale.Measurement) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureHeader(); err != nil {
		return err
	}

	return c.write([]string{m.FormatTimeStamp(), m.FormatWeight()})
}

// Recent returns up to n of the most recent measurements in the log, newest first
func (c *CSV) Recent(n int) (scale.Measurements, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return scale.Measurements{}, nil
		}
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var all scale.Measurements
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", c.path, err)
		}

		m, ok := parseRecord(record)
		if !ok {
			continue
		}
		all = append(all, m)
	}

	res := make(scale.Measurements, 0, min(n, len(all)))
	for i := len(all) - 1; i >= 0 && len(res) < n; i-- {
		res = append(res, all[i])
	}

	return res, nil
}

// Close releases the sink (no-op, the file is not kept open)
func (c *CSV) Close() error {
	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (c *CSV) ensureHeader() error {
	info, err := os.Stat(c.path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return c.write(csvHeader)
}

func (c *CSV) write(record []string) error {
	file, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(record); err != nil {
		file.Close()
		return err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return err
	}

	return file.Close()
}

func parseRecord(record []string) (scale.Measurement, bool) {
	if len(record) != len(csvHeader) {
		return scale.Measurement{}, false
	}

	ts, err := time.ParseInLocation(scale.TimeStampFormat, record[0], time.Local)
	if err != nil {
		return scale.Measurement{}, false
	}
	weight, err := strconv.ParseFloat(record[1], 64)
	if err != nil {
		return scale.Measurement{}, false
	}

	return scale.Measurement{
		TimeStamp: ts,
		Weight:    weight,
	}, true
}
