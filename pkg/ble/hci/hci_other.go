//go:build !linux

package hci

import "github.com/fako1024/gatt"

func defaultBTClientOptions(_ int) []gatt.Option {
	return nil
}
