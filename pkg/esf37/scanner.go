// Package esf37 implements the logic to discover an Etekcity ESF37 scale,
// connect to it whenever it wakes up and record its stable weight readings
package esf37

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fako1024/esf37/pkg/ble"
	"github.com/fako1024/esf37/pkg/frame"
	"github.com/fako1024/esf37/pkg/scale"
	"github.com/fatih/stopwatch"
)

const (

	// DefaultDeviceName denotes the "Complete Local Name" advertised by the scale
	DefaultDeviceName = "Etekcity Fitness Scale"

	// DefaultScanWindow denotes the duration of a single scan
	DefaultScanWindow = 60 * time.Second

	// DefaultNotificationTimeout denotes the idle period after which a session ends
	DefaultNotificationTimeout = 27500 * time.Millisecond

	// DefaultCoolOff denotes the pause after a session before scanning is resumed
	DefaultCoolOff = 10 * time.Second
)

// Outcome denotes the result of a single scan
type Outcome int

const (

	// TimedOut denotes a scan that ran for its full window without finding the scale
	TimedOut Outcome = iota

	// Matched denotes a scan that was cut short because the scale was found
	Matched
)

// String returns a human readable representation of the outcome
func (o Outcome) String() string {
	if o == Matched {
		return "matched"
	}
	return "timed-out"
}

// ScanResult denotes the result of a single scan
type ScanResult struct {
	Outcome Outcome
	Device  ble.Advertisement

	// Devices and AddressTypes summarize all devices seen during a scan that ran
	// for its full window
	Devices      int
	AddressTypes map[ble.AddressType]int
}

// Summary returns a human readable summary of the devices seen, most common address
// type first
func (r ScanResult) Summary() string {
	type count struct {
		addrType ble.AddressType
		n        int
	}
	counts := make([]count, 0, len(r.AddressTypes))
	for addrType, n := range r.AddressTypes {
		counts = append(counts, count{addrType, n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].n == counts[j].n {
			return counts[i].addrType < counts[j].addrType
		}
		return counts[i].n > counts[j].n
	})

	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%d %s", c.n, c.addrType))
	}

	return fmt.Sprintf("BLE devices seen: %d (%s)", r.Devices, strings.Join(parts, ", "))
}

// Scanner denotes the perpetual discovery loop, handing over to a session
// whenever the scale is found
type Scanner struct {
	adapter ble.Adapter
	sink    scale.Sink

	deviceName        string
	scanWindow        time.Duration
	coolOff           time.Duration
	logAdvertisements bool
	sessionCfg        SessionConfig

	closing   atomic.Bool
	closeChan chan struct{}

	statusMu           sync.Mutex
	status             scale.Status
	stateChangeHandler func(scale.Status)

	now    func() time.Time
	logger scale.Logger
}

// New instantiates a new Scanner on the given adapter, persisting measurements
// to the given sink and executing functional options, if any
func New(adapter ble.Adapter, sink scale.Sink, options ...func(*Scanner)) *Scanner {

	// Initialize a new instance of a Scanner
	s := &Scanner{
		adapter:    adapter,
		sink:       sink,
		deviceName: DefaultDeviceName,
		scanWindow: DefaultScanWindow,
		coolOff:    DefaultCoolOff,
		sessionCfg: DefaultSessionConfig(),
		closeChan:  make(chan struct{}),
		now:        time.Now,
		logger:     &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(s)
	}

	s.status = scale.Status{
		State: scale.StateIdle,
		Since: s.now(),
	}

	return s
}

// SetStateChangeHandler defines a function to be executed upon each state change
func (s *Scanner) SetStateChangeHandler(fn func(scale.Status)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	s.stateChangeHandler = fn
}

// Status returns a snapshot of the current status of the scanner
func (s *Scanner) Status() scale.Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	status := s.status
	if s.status.LastMeasurement != nil {
		m := *s.status.LastMeasurement
		status.LastMeasurement = &m
	}

	return status
}

// Run continuously scans for the scale, handling a session each time it is found,
// until Close() is called or the context is cancelled
func (s *Scanner) Run(ctx context.Context) {
	s.logger.Infof("scanning for `%s` (window %v, cool off %v)", s.deviceName, s.scanWindow, s.coolOff)
	defer s.setState(scale.StateStopped, "")

	for !s.closing.Load() {
		if ctx.Err() != nil {
			s.Close()
			break
		}

		res, err := s.ScanOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.Close()
				break
			}

			// A failing stack is kept alive, the next iteration may well succeed
			s.logger.Errorf("error during scan: %s", err)
			s.recordError(err)
			s.coolDown(ctx)
			continue
		}

		if res.Outcome == Matched {
			s.HandleDevice(ctx, res.Device)
		}
	}

	s.logger.Info("scanner stopped")
}

// Close stops the scanner after the current scan / session has ended, interrupting
// a cool off period
func (s *Scanner) Close() {
	if s.closing.CompareAndSwap(false, true) {
		s.logger.Info("closing scanner")
		close(s.closeChan)
	}
}

// ScanOnce scans for the scale until it is found, the scan window has elapsed or
// the context is cancelled
func (s *Scanner) ScanOnce(ctx context.Context) (ScanResult, error) {
	s.setState(scale.StateScanning, "")

	var (
		seen      = make(map[string]ble.AddressType)
		seenMu    sync.Mutex
		matchChan = make(chan ble.Advertisement, 1)
	)

	handler := func(adv ble.Advertisement) {
		seenMu.Lock()
		seen[adv.Address] = adv.AddressType
		seenMu.Unlock()

		if s.logAdvertisements && adv.LocalName() != "" {
			s.logger.Debugf("advertisement from %s [%d dBm]: %v", adv, adv.RSSI, adv.Fields)
		}

		if s.isTarget(adv) {
			select {
			case matchChan <- adv:
			default:
			}
		}
	}

	watch := stopwatch.Start(0)
	if err := s.adapter.StartScan(handler); err != nil {
		return ScanResult{}, err
	}

	timer := time.NewTimer(s.scanWindow)
	defer timer.Stop()

	select {
	case adv := <-matchChan:
		s.terminateScan()
		s.logger.Infof("peripheral found @ %s after %v, aborting scan", adv, watch.ElapsedTime().Round(time.Millisecond))
		return ScanResult{
			Outcome: Matched,
			Device:  adv,
		}, nil
	case <-ctx.Done():
		s.terminateScan()
		return ScanResult{}, ctx.Err()
	case <-timer.C:
	}
	s.terminateScan()

	res := ScanResult{
		Outcome:      TimedOut,
		AddressTypes: make(map[ble.AddressType]int),
	}
	seenMu.Lock()
	for _, addrType := range seen {
		res.Devices++
		res.AddressTypes[addrType]++
	}
	seenMu.Unlock()
	s.logger.Info(res.Summary())

	return res, nil
}

// HandleDevice runs a session with the given device, followed by the cool off period
func (s *Scanner) HandleDevice(ctx context.Context, adv ble.Advertisement) {
	s.setState(scale.StateConnected, adv.Address)

	session := NewSession(s.adapter, adv, s.sessionCfg, s.recordReading, s.logger)
	err := session.Handle(ctx)

	s.statusMu.Lock()
	s.status.Sessions++
	if err != nil {
		s.status.LastError = err
	}
	s.statusMu.Unlock()

	s.coolDown(ctx)
}

////////////////////////////////////////////////////////////////////////////////

func (s *Scanner) isTarget(adv ble.Advertisement) bool {
	return adv.Connectable && adv.LocalName() == s.deviceName
}

// terminateScan stops the running scan. Failures are not propagated since some
// stacks report a disconnect when stopping an already stopped scan
func (s *Scanner) terminateScan() {
	if err := s.adapter.StopScan(); err != nil {
		if errors.Is(err, ble.ErrDisconnected) || errors.Is(err, ble.ErrNotScanning) {
			s.logger.Debugf("ignoring error while stopping scan: %s", err)
			return
		}
		s.logger.Warnf("failed to stop scan: %s", err)
	}
}

func (s *Scanner) recordReading(reading frame.WeightReading) {
	m := scale.Measurement{
		TimeStamp: s.now(),
		Weight:    reading.Kg(),
	}

	s.logger.Infof("recording stable measurement: %s kg", m.FormatWeight())
	if err := s.sink.Append(m); err != nil {
		s.logger.Errorf("failed to persist measurement (%s kg): %s", m.FormatWeight(), err)
		s.recordError(err)
		return
	}

	s.statusMu.Lock()
	s.status.Measurements++
	s.status.LastMeasurement = &m
	s.statusMu.Unlock()
}

func (s *Scanner) recordError(err error) {
	s.statusMu.Lock()
	s.status.LastError = err
	s.statusMu.Unlock()
}

func (s *Scanner) coolDown(ctx context.Context) {
	if s.closing.Load() || s.coolOff <= 0 {
		return
	}
	s.setState(scale.StateCoolingOff, "")

	s.logger.Debugf("cooling off for %v", s.coolOff)
	timer := time.NewTimer(s.coolOff)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-s.closeChan:
	}
}

func (s *Scanner) setState(state scale.State, device string) {
	s.statusMu.Lock()
	s.status.State = state
	s.status.Since = s.now()
	s.status.Device = device
	status := s.status
	handler := s.stateChangeHandler
	s.statusMu.Unlock()

	if handler != nil {
		handler(status)
	}
}
