package main

import "fmt"

// ListDevicesCmd enumerates attached devices. Stub: device discovery is
// transport-specific (adb devices / hdc list targets / usbmuxd) and no
// transport driver ships in this build -- see resolveDeviceController.
type ListDevicesCmd struct{}

func (c *ListDevicesCmd) Run(cli *CLI) error {
	fmt.Println("no device transport driver is bundled in this build")
	return nil
}
