package esf37

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fako1024/esf37/pkg/ble"
	"github.com/fako1024/esf37/pkg/frame"
	"github.com/fako1024/esf37/pkg/mock"
)

var testSessionConfig = SessionConfig{
	NotificationTimeout: 100 * time.Millisecond,
	EnumerateServices:   true,
	LogNotifications:    true,
}

func TestSessionDisconnect(t *testing.T) {

	var errConnect = errors.New("connection refused")

	for name, tc := range map[string]struct {
		options             []func(*mock.Mock)
		expectedErr         func(error) bool
		expectedConnects    int
		expectedDisconnects int
	}{
		"regular": {
			options:             []func(*mock.Mock){mock.WithFrames(mock.WeightFrame(80, true))},
			expectedErr:         func(err error) bool { return err == nil },
			expectedConnects:    1,
			expectedDisconnects: 1,
		},
		"not connectable": {
			options:             []func(*mock.Mock){mock.WithConnectable(false)},
			expectedErr:         func(err error) bool { return errors.Is(err, ErrNotConnectable) },
			expectedConnects:    0,
			expectedDisconnects: 0,
		},
		"connect failure": {
			options:             []func(*mock.Mock){mock.WithConnectError(errConnect)},
			expectedErr:         func(err error) bool { return ble.IsTransportError(err) && errors.Is(err, errConnect) },
			expectedConnects:    1,
			expectedDisconnects: 0,
		},
		"link loss": {
			options:             []func(*mock.Mock){mock.WithFrames(mock.WeightFrame(80, false)), mock.WithLinkLoss(), mock.WithFrameInterval(10 * time.Millisecond)},
			expectedErr:         func(err error) bool { return ble.IsTransportError(err) && errors.Is(err, ble.ErrDisconnected) },
			expectedConnects:    1,
			expectedDisconnects: 1,
		},
		"panic": {
			options:             []func(*mock.Mock){mock.WithPanicOnServices()},
			expectedErr:         func(err error) bool { return errors.Is(err, ErrUnexpected) },
			expectedConnects:    1,
			expectedDisconnects: 1,
		},
	} {
		t.Run(name, func(t *testing.T) {
			m := mock.New(append([]func(*mock.Mock){mock.WithFrameInterval(10 * time.Millisecond)}, tc.options...)...)

			session := NewSession(m, m.Advertisement(), testSessionConfig, nil, nil)
			if err := session.Handle(context.Background()); !tc.expectedErr(err) {
				t.Fatalf("unexpected session error: %v", err)
			}

			if session.State() != SessionClosed {
				t.Fatalf("unexpected final session state: %s", session.State())
			}
			if m.Connects() != tc.expectedConnects {
				t.Fatalf("unexpected number of connection attempts: have %d, want %d", m.Connects(), tc.expectedConnects)
			}
			if m.Disconnects() != tc.expectedDisconnects {
				t.Fatalf("unexpected number of disconnects: have %d, want %d", m.Disconnects(), tc.expectedDisconnects)
			}

			// An additional explicit disconnect must not reach the connection again
			session.Disconnect()
			if m.Disconnects() != tc.expectedDisconnects {
				t.Fatalf("unexpected number of disconnects after repeated call: have %d, want %d", m.Disconnects(), tc.expectedDisconnects)
			}
		})
	}
}

func TestSessionStableReadings(t *testing.T) {
	m := mock.New(
		mock.WithFrameInterval(10*time.Millisecond),
		mock.WithFrames(
			mock.WeightFrame(52.3, false),
			[]byte{0xFE, 0xEF, 0xC0},
			mock.WeightFrame(95.1, true),
			frame.Encode(frame.Header{0x01, 0x02, 0x03, 0x04, 0x05}, []byte{0x01}),
		),
	)

	var readings []frame.WeightReading
	session := NewSession(m, m.Advertisement(), testSessionConfig, func(r frame.WeightReading) {
		readings = append(readings, r)
	}, nil)

	if err := session.Handle(context.Background()); err != nil {
		t.Fatalf("unexpected session error: %s", err)
	}

	if len(readings) != 1 || session.Readings() != 1 {
		t.Fatalf("unexpected number of stable readings: %d / %d", len(readings), session.Readings())
	}
	if readings[0].KgRaw != 9510 || !readings[0].Stable {
		t.Fatalf("unexpected reading: %v", readings[0])
	}
	if session.Duration() < testSessionConfig.NotificationTimeout {
		t.Fatalf("session ended before notification timeout: %v", session.Duration())
	}
}

func TestSessionCancel(t *testing.T) {
	m := mock.New()

	cfg := testSessionConfig
	cfg.NotificationTimeout = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	session := NewSession(m, m.Advertisement(), cfg, nil, nil)
	if err := session.Handle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected session error: %v", err)
	}
	if m.Disconnects() != 1 {
		t.Fatalf("unexpected number of disconnects: %d", m.Disconnects())
	}
}

func TestSessionCancelWhileConnecting(t *testing.T) {
	m := mock.New(mock.WithConnectDelay(200 * time.Millisecond))

	cfg := testSessionConfig
	cfg.NotificationTimeout = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	session := NewSession(m, m.Advertisement(), cfg, nil, nil)
	if err := session.Handle(ctx); !errors.Is(err, context.Canceled) || ble.IsTransportError(err) {
		t.Fatalf("unexpected session error: %v", err)
	}

	// The connection must have been established and released again
	if m.Connects() != 1 || m.LastConnection() == nil {
		t.Fatalf("connection was not established")
	}
	if m.Disconnects() != 1 {
		t.Fatalf("unexpected number of disconnects: %d", m.Disconnects())
	}
	if session.Duration() < 200*time.Millisecond {
		t.Fatalf("connection attempt was cut short: %v", session.Duration())
	}
}

func TestSessionState(t *testing.T) {
	for state, expected := range map[SessionState]string{
		SessionIdle:       "idle",
		SessionAwaiting:   "awaiting-notifications",
		SessionClosed:     "closed",
		SessionState(100): "unknown",
	} {
		if state.String() != expected {
			t.Fatalf("unexpected string representation: have %s, want %s", state, expected)
		}
	}
}
