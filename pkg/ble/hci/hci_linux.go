package hci

import "github.com/fako1024/gatt"

func defaultBTClientOptions(deviceID int) []gatt.Option {
	return []gatt.Option{
		gatt.LnxMaxConnections(1),
		gatt.LnxDeviceID(deviceID, true),
	}
}
