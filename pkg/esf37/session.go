package esf37

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/fako1024/esf37/pkg/ble"
	"github.com/fako1024/esf37/pkg/frame"
	"github.com/fako1024/esf37/pkg/scale"
	"github.com/fatih/stopwatch"
)

var (

	// ErrNotConnectable is returned if the advertised device does not accept connections
	ErrNotConnectable = errors.New("device not connectable")

	// ErrUnexpected denotes an unclassified failure (e.g. a recovered panic) during a session
	ErrUnexpected = errors.New("unexpected session failure")
)

// SessionState denotes the state of a session
type SessionState int

const (

	// SessionIdle is active before the session has been started
	SessionIdle SessionState = iota

	// SessionConnecting is active while establishing the connection
	SessionConnecting

	// SessionEnumerating is active while walking the service tree of the device
	SessionEnumerating

	// SessionAwaiting is active while waiting for notifications
	SessionAwaiting

	// SessionDisconnecting is active while tearing down the connection
	SessionDisconnecting

	// SessionClosed is active once the session has terminated
	SessionClosed
)

// String returns a human readable representation of the session state
func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionConnecting:
		return "connecting"
	case SessionEnumerating:
		return "enumerating-services"
	case SessionAwaiting:
		return "awaiting-notifications"
	case SessionDisconnecting:
		return "disconnecting"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig denotes the parameters of a session
type SessionConfig struct {

	// NotificationTimeout is the idle period after which the session ends. It should
	// be just below the auto power-off delay of the scale (30s)
	NotificationTimeout time.Duration

	// EnumerateServices enables logging of the service tree of the device
	EnumerateServices bool

	// LogNotifications enables logging of all raw notification data
	LogNotifications bool
}

// DefaultSessionConfig returns the default session parameters
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		NotificationTimeout: DefaultNotificationTimeout,
		EnumerateServices:   true,
	}
}

// Session denotes a single connection to the scale, from connect to disconnect
type Session struct {
	adapter ble.Adapter
	device  ble.Advertisement
	conn    ble.Connection
	cfg     SessionConfig

	state    SessionState
	readings int
	timer    *stopwatch.Stopwatch

	onStable func(frame.WeightReading)
	logger   scale.Logger
}

// NewSession instantiates a new session with the advertised device. The callback is
// executed for every stable weight reading received during the session
func NewSession(adapter ble.Adapter, device ble.Advertisement, cfg SessionConfig, onStable func(frame.WeightReading), logger scale.Logger) *Session {
	if logger == nil {
		logger = &scale.NullLogger{}
	}
	if onStable == nil {
		onStable = func(frame.WeightReading) {}
	}

	return &Session{
		adapter:  adapter,
		device:   device,
		cfg:      cfg,
		onStable: onStable,
		logger:   logger,
	}
}

// State returns the current state of the session
func (s *Session) State() SessionState {
	return s.state
}

// Readings returns the number of stable readings received during the session
func (s *Session) Readings() int {
	return s.readings
}

// Duration returns the time elapsed since the session was started
func (s *Session) Duration() time.Duration {
	if s.timer == nil {
		return 0
	}

	return s.timer.ElapsedTime()
}

// Handle runs the complete session (connect, enumerate, consume notifications). The
// connection is released on every exit path, errors and panics are logged and returned
// for reporting purposes only
func (s *Session) Handle(ctx context.Context) (err error) {
	s.timer = stopwatch.Start(0)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnexpected, r)
			s.logger.Errorw("aborting session (unexpected error)",
				"device", s.device.Address,
				"state", s.state.String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}

		s.Disconnect()
		s.timer.Stop()
		s.logger.Infof("session with %s ended after %v (%d stable readings)", s.device.Address, s.timer.ElapsedTime().Round(time.Millisecond), s.readings)
	}()

	if err = s.run(ctx); err != nil {
		s.logFailure(err)
	}

	return err
}

// Connect establishes the connection to the device
func (s *Session) Connect(ctx context.Context) error {
	s.state = SessionConnecting

	// Avoid a connection attempt that is bound to fail
	if !s.device.Connectable {
		return fmt.Errorf("%w: %s", ErrNotConnectable, s.device.Address)
	}

	// A connection attempt is never aborted halfway, the backends bound it by
	// their own timeout
	s.logger.Infof("connecting to %s", s.device)
	conn, err := s.adapter.Connect(context.WithoutCancel(ctx), s.device)
	if err != nil {
		if !ble.IsTransportError(err) {
			err = ble.NewTransportError("connect", err)
		}
		return err
	}
	s.conn = conn

	return nil
}

// EnumerateServices logs all services and characteristics of the device, attempting to
// read each readable characteristic. Read failures are logged and ignored
func (s *Session) EnumerateServices() error {
	s.state = SessionEnumerating

	services, err := s.conn.Services()
	if err != nil {
		return err
	}

	s.logger.Debug("enumerating services:")
	for _, service := range services {
		s.logger.Debugf("    service %s %s", service.UUID, service.Name)

		for _, char := range service.Characteristics {
			s.logger.Debugf("        characteristic %s, supports %s", char.UUID(), char.Properties())
			if !char.Readable() {
				continue
			}

			data, err := char.Read()
			if err != nil {
				s.logger.Debugf("          -> %s", err)
				continue
			}
			s.logger.Debugf("          -> % X", data)
		}
	}

	return nil
}

// ConsumeNotifications processes incoming notifications until none has been received
// for the configured timeout (the regular end of a session)
func (s *Session) ConsumeNotifications(ctx context.Context) error {
	s.state = SessionAwaiting

	notifications, err := s.conn.Notifications()
	if err != nil {
		return err
	}

	s.logger.Debug("waiting for notifications...")
	for {
		buf, received, err := s.waitForNotification(ctx, notifications)
		if err != nil {
			return err
		}
		if !received {
			s.logger.Debugf("no notification received within %v, releasing device", s.cfg.NotificationTimeout)
			return nil
		}

		s.handleNotification(buf)
	}
}

// Disconnect releases the connection (if any). Failures are logged, never returned
func (s *Session) Disconnect() {
	if s.state == SessionClosed {
		return
	}
	s.state = SessionDisconnecting
	defer func() {
		s.state = SessionClosed
	}()

	if s.conn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warnf("failed to disconnect from %s: %v", s.device.Address, r)
		}
	}()

	s.logger.Infof("disconnecting from %s", s.device.Address)
	if err := s.conn.Disconnect(); err != nil {
		s.logger.Warnf("failed to disconnect from %s: %s", s.device.Address, err)
	}
}

////////////////////////////////////////////////////////////////////////////////

func (s *Session) run(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	if s.cfg.EnumerateServices {
		if err := s.EnumerateServices(); err != nil {
			return err
		}
	}

	return s.ConsumeNotifications(ctx)
}

func (s *Session) waitForNotification(ctx context.Context, notifications <-chan []byte) ([]byte, bool, error) {

	// Buffered notifications take precedence over a lost link
	select {
	case buf, ok := <-notifications:
		if !ok {
			return nil, false, ble.NewTransportError("await notification", ble.ErrDisconnected)
		}
		return buf, true, nil
	default:
	}

	timer := time.NewTimer(s.cfg.NotificationTimeout)
	defer timer.Stop()

	select {
	case buf, ok := <-notifications:
		if !ok {
			return nil, false, ble.NewTransportError("await notification", ble.ErrDisconnected)
		}
		return buf, true, nil
	case <-s.conn.Disconnected():
		return nil, false, ble.NewTransportError("await notification", ble.ErrDisconnected)
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *Session) handleNotification(buf []byte) {
	if s.cfg.LogNotifications {
		s.logger.Debugf("NOTIFY: device=%s data=% X", s.device.Address, buf)
	}

	f, err := frame.Decode(buf)
	if err != nil {
		s.logger.Warnf("dropping notification from %s: %s", s.device.Address, err)
		return
	}
	s.logger.Debug(f)

	// Only stable readings are forwarded, the scale streams intermediate values
	// while the weight settles
	if reading, ok := f.Payload.(frame.WeightReading); ok && reading.Stable {
		s.readings++
		s.onStable(reading)
	}
}

func (s *Session) logFailure(err error) {
	switch {
	case errors.Is(err, ErrNotConnectable):
		s.logger.Errorf("target %s is not connectable", s.device.Address)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Infof("session with %s interrupted: %s", s.device.Address, err)
	case ble.IsTransportError(err):
		s.logger.Errorw("aborting session (transport error)",
			"device", s.device.Address,
			"state", s.state.String(),
			"error", err,
		)
	default:
		s.logger.Errorw("aborting session (unexpected error)",
			"device", s.device.Address,
			"state", s.state.String(),
			"error", err,
		)
	}
}
