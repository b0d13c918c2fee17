package sink

import (
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fako1024/esf37/pkg/scale"
)

var testMeasurements = scale.Measurements{
	{TimeStamp: time.Date(2024, 1, 2, 7, 30, 0, 0, time.Local), Weight: 95.1},
	{TimeStamp: time.Date(2024, 1, 3, 7, 31, 12, 0, time.Local), Weight: 94.84},
	{TimeStamp: time.Date(2024, 1, 4, 7, 29, 59, 0, time.Local), Weight: 94.5},
}

type testSink struct {
	measurements scale.Measurements
	err          error
	closed       bool
}

func (t *testSink) Append(m scale.Measurement) error {
	if t.err != nil {
		return t.err
	}
	t.measurements = append(t.measurements, m)
	return nil
}

func (t *testSink) Close() error {
	t.closed = true
	return t.err
}

func TestCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etekcity_scale", "measurements.csv")

	c, err := NewCSV(path)
	if err != nil {
		t.Fatalf("failed to create CSV sink: %s", err)
	}
	for _, m := range testMeasurements[:2] {
		if err := c.Append(m); err != nil {
			t.Fatalf("failed to append measurement: %s", err)
		}
	}

	// Reopening an existing log must not add another header
	c, err = NewCSV(path)
	if err != nil {
		t.Fatalf("failed to reopen CSV sink: %s", err)
	}
	if err := c.Append(testMeasurements[2]); err != nil {
		t.Fatalf("failed to append measurement: %s", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read CSV file: %s", err)
	}
	expected := "timestamp,weight_kg\n" +
		"2024-01-02 07:30:00,95.1\n" +
		"2024-01-03 07:31:12,94.8\n" +
		"2024-01-04 07:29:59,94.5\n"
	if string(data) != expected {
		t.Fatalf("unexpected CSV content:\n%s", data)
	}

	recent, err := c.Recent(2)
	if err != nil {
		t.Fatalf("failed to read recent measurements: %s", err)
	}
	if len(recent) != 2 || !recent[0].TimeStamp.Equal(testMeasurements[2].TimeStamp) || recent[1].Weight != 94.8 {
		t.Fatalf("unexpected recent measurements: %v", recent)
	}

	// The result is bounded by the stored data, not by the requested count
	recent, err = c.Recent(math.MaxInt)
	if err != nil || len(recent) != len(testMeasurements) {
		t.Fatalf("unexpected recent measurements for unbounded request: %v, %v", recent, err)
	}
}

func TestCSVRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "measurements.csv")

	c, err := NewCSV(path)
	if err != nil {
		t.Fatalf("failed to create CSV sink: %s", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove CSV file: %s", err)
	}

	recent, err := c.Recent(10)
	if err != nil || len(recent) != 0 {
		t.Fatalf("unexpected recent measurements for missing file: %v, %v", recent, err)
	}

	if err := c.Append(testMeasurements[0]); err != nil {
		t.Fatalf("failed to append measurement: %s", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read CSV file: %s", err)
	}
	if string(data) != "timestamp,weight_kg\n2024-01-02 07:30:00,95.1\n" {
		t.Fatalf("unexpected CSV content:\n%s", data)
	}
}

func TestSQLite(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "db", "measurements.db"))
	if err != nil {
		t.Fatalf("failed to open SQLite sink: %s", err)
	}
	defer s.Close()

	recent, err := s.Recent(5)
	if err != nil || len(recent) != 0 {
		t.Fatalf("unexpected recent measurements in empty database: %v, %v", recent, err)
	}

	for _, m := range testMeasurements {
		if err := s.Append(m); err != nil {
			t.Fatalf("failed to append measurement: %s", err)
		}
	}

	recent, err = s.Recent(math.MaxInt)
	if err != nil || len(recent) != len(testMeasurements) {
		t.Fatalf("unexpected recent measurements for unbounded request: %v, %v", recent, err)
	}

	recent, err = s.Recent(2)
	if err != nil {
		t.Fatalf("failed to read recent measurements: %s", err)
	}
	if len(recent) != 2 {
		t.Fatalf("unexpected number of recent measurements: %d", len(recent))
	}
	for i, ref := range []scale.Measurement{testMeasurements[2], testMeasurements[1]} {
		if !recent[i].TimeStamp.Equal(ref.TimeStamp) || recent[i].Weight != ref.Weight {
			t.Fatalf("unexpected measurement at position %d: have %v, want %v", i, recent[i], ref)
		}
	}
}

func TestInflux(t *testing.T) {
	bodies := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		bodies <- string(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewInflux(srv.URL, "token", "org", "bucket", "esf37")
	defer s.Close()

	if err := s.Append(testMeasurements[0]); err != nil {
		t.Fatalf("failed to write measurement: %s", err)
	}

	select {
	case body := <-bodies:
		if !strings.HasPrefix(body, "weight,device=esf37 weight_kg=95.1 ") {
			t.Fatalf("unexpected line protocol: %s", body)
		}
	default:
		t.Fatalf("no point was written")
	}
}

func TestInfluxFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewInflux(srv.URL, "invalid", "org", "bucket", "esf37")
	defer s.Close()

	if err := s.Append(testMeasurements[0]); err == nil {
		t.Fatalf("expected error for rejected write")
	}
}

func TestMQTTMessage(t *testing.T) {
	payload, err := encodeMessage(scale.Measurement{
		TimeStamp: time.Date(2024, 1, 2, 7, 30, 0, 0, time.UTC),
		Weight:    95.14,
	})
	if err != nil {
		t.Fatalf("failed to encode message: %s", err)
	}
	if string(payload) != `{"timestamp":"2024-01-02T07:30:00Z","weight_kg":95.1}` {
		t.Fatalf("unexpected message: %s", payload)
	}
}

func TestMQTTUnreachable(t *testing.T) {
	if _, err := NewMQTT("tcp://127.0.0.1:1", "esf37-test", "scale/weight", 1, nil); err == nil {
		t.Fatalf("expected error connecting to unreachable broker")
	}
}

func TestMulti(t *testing.T) {
	errSink := errors.New("sink failure")
	failing, working := &testSink{err: errSink}, &testSink{}

	m := NewMulti(failing, working)
	if err := m.Append(testMeasurements[0]); !errors.Is(err, errSink) {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(working.measurements) != 1 {
		t.Fatalf("measurement was not forwarded to working sink")
	}

	if m.History() != nil {
		t.Fatalf("unexpected history provider")
	}
	if _, err := m.Recent(1); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Close(); !errors.Is(err, errSink) {
		t.Fatalf("unexpected error on close: %v", err)
	}
	if !failing.closed || !working.closed {
		t.Fatalf("not all sinks were closed")
	}
}

func TestMultiHistory(t *testing.T) {
	c, err := NewCSV(filepath.Join(t.TempDir(), "measurements.csv"))
	if err != nil {
		t.Fatalf("failed to create CSV sink: %s", err)
	}

	m := NewMulti(&testSink{}, c)
	if err := m.Append(testMeasurements[0]); err != nil {
		t.Fatalf("failed to append measurement: %s", err)
	}

	recent, err := m.Recent(10)
	if err != nil || len(recent) != 1 || recent[0].Weight != 95.1 {
		t.Fatalf("unexpected recent measurements: %v, %v", recent, err)
	}
}
