package bluez

import "github.com/fako1024/esf37/pkg/scale"

// WithAdapterName sets the name of the BlueZ adapter to use (e.g. "hci0")
func WithAdapterName(name string) func(*Adapter) {
	return func(a *Adapter) {
		a.name = name
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Adapter) {
	return func(a *Adapter) {
		a.logger = logger
	}
}
