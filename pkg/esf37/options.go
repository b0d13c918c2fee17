package esf37

import (
	"time"

	"github.com/fako1024/esf37/pkg/scale"
)

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Scanner) {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithDeviceName sets the advertised name identifying the scale
func WithDeviceName(deviceName string) func(*Scanner) {
	return func(s *Scanner) {
		s.deviceName = deviceName
	}
}

// WithScanWindow sets the maximum duration of a single scan
func WithScanWindow(window time.Duration) func(*Scanner) {
	return func(s *Scanner) {
		s.scanWindow = window
	}
}

// WithCoolOff sets the pause after a session
func WithCoolOff(coolOff time.Duration) func(*Scanner) {
	return func(s *Scanner) {
		s.coolOff = coolOff
	}
}

// WithNotificationTimeout sets the idle period after which a session is ended
func WithNotificationTimeout(timeout time.Duration) func(*Scanner) {
	return func(s *Scanner) {
		s.sessionCfg.NotificationTimeout = timeout
	}
}

// WithEnumerateServices enables / disables logging the service tree on connect
func WithEnumerateServices(enable bool) func(*Scanner) {
	return func(s *Scanner) {
		s.sessionCfg.EnumerateServices = enable
	}
}

// WithAdvertisementLogging enables logging of all named advertisements
func WithAdvertisementLogging(enable bool) func(*Scanner) {
	return func(s *Scanner) {
		s.logAdvertisements = enable
	}
}

// WithNotificationLogging enables logging of all raw notification data
func WithNotificationLogging(enable bool) func(*Scanner) {
	return func(s *Scanner) {
		s.sessionCfg.LogNotifications = enable
	}
}

// WithClock sets the time source used to timestamp measurements
func WithClock(now func() time.Time) func(*Scanner) {
	return func(s *Scanner) {
		s.now = now
	}
}
