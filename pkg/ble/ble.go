// Package ble provides the transport abstraction used to discover and talk to
// the scale. Concrete backends live in the hci (raw HCI socket) and bluez
// (BlueZ / D-Bus) sub-packages, a simulated scale is provided by pkg/mock.
package ble

import (
	"context"
	"errors"
	"fmt"
)

// FieldCompleteLocalName denotes the advertisement field carrying the device name
const FieldCompleteLocalName = "Complete Local Name"

// Common advertisement field names
const (
	FieldManufacturer = "Manufacturer"
	FieldTxPowerLevel = "Tx Power"
	FieldServices     = "Complete 16b Services"
)

var (

	// ErrDisconnected is returned if the underlying link has been lost / torn down
	ErrDisconnected = errors.New("device disconnected")

	// ErrNotScanning is returned when stopping a scan that is not running
	ErrNotScanning = errors.New("no scan in progress")

	// ErrUnknownDevice is returned when connecting to a device that has not
	// been seen during a scan
	ErrUnknownDevice = errors.New("unknown device")

	// ErrTimeout is returned if a transport operation did not complete in time
	ErrTimeout = errors.New("operation timed out")
)

// TransportError denotes a failure of the underlying bluetooth stack
type TransportError struct {
	Op  string
	Err error
}

// NewTransportError wraps an error as a TransportError for the given operation
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{
		Op:  op,
		Err: err,
	}
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %s", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError determines if an error (chain) contains a TransportError
func IsTransportError(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

// AddressType denotes the type of a device address
type AddressType string

const (

	// AddressPublic denotes a public (IEEE assigned) device address
	AddressPublic AddressType = "public"

	// AddressRandom denotes a random (static or private) device address
	AddressRandom AddressType = "random"

	// AddressUnknown denotes an address type not reported by the backend
	AddressUnknown AddressType = "unknown"
)

// Advertisement denotes a single advertisement received during a scan
type Advertisement struct {
	Address     string
	AddressType AddressType
	RSSI        int
	Connectable bool
	Fields      map[string]string
}

// LocalName returns the "Complete Local Name" advertised by the device (if any)
func (a Advertisement) LocalName() string {
	return a.Fields[FieldCompleteLocalName]
}

// String returns a human readable representation of the advertisement
func (a Advertisement) String() string {
	return fmt.Sprintf("%s (%s address)", a.Address, a.AddressType)
}

// Characteristic denotes a GATT characteristic of a connected device
type Characteristic interface {

	// UUID returns the UUID of the characteristic
	UUID() string

	// Properties returns a human readable list of supported operations
	Properties() string

	// Readable returns if the characteristic supports reading
	Readable() bool

	// Read reads the current value of the characteristic
	Read() ([]byte, error)
}

// Service denotes a GATT service and its characteristics
type Service struct {
	UUID            string
	Name            string
	Characteristics []Characteristic
}

// Connection denotes an established connection to a peripheral
type Connection interface {

	// Address returns the address of the connected device
	Address() string

	// Services discovers all services and characteristics of the device
	Services() ([]Service, error)

	// Notifications subscribes to all notifying characteristics of the device and
	// returns a channel providing the received buffers
	Notifications() (<-chan []byte, error)

	// Disconnected returns a channel that is closed once the link to the device
	// has been lost
	Disconnected() <-chan struct{}

	// Disconnect terminates the connection
	Disconnect() error
}

// Adapter denotes a bluetooth adapter capable of scanning and connecting
type Adapter interface {

	// StartScan starts scanning for advertisements, calling the handler for each
	// received advertisement until StopScan is called
	StartScan(handler func(Advertisement)) error

	// StopScan stops a running scan
	StopScan() error

	// Connect establishes a connection to the advertised device
	Connect(ctx context.Context, adv Advertisement) (Connection, error)

	// Close releases the adapter
	Close() error
}
