package browser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chromedp/chromedp/device"
)

// DefaultDevice is used when a script does not name one.
const DefaultDevice = "Chrome Desktop Large"

var devices = map[string]device.Info{
	"Chrome Desktop Large": {Name: "Chrome Desktop Large", Width: 1440, Height: 900, Scale: 1},
	"Chrome Desktop":       {Name: "Chrome Desktop", Width: 1280, Height: 800, Scale: 1},
	"Chrome Desktop Small": {Name: "Chrome Desktop Small", Width: 1024, Height: 768, Scale: 1},
	"iPhone X":             device.IPhoneX.Device(),
	"iPad":                 device.IPad.Device(),
	"Pixel 2":              device.Pixel2.Device(),
	"Galaxy S5":            device.GalaxyS5.Device(),
}

// LookupDevice resolves a profile name case-insensitively.
func LookupDevice(name string) (device.Info, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultDevice
	}
	if info, ok := devices[name]; ok {
		return info, nil
	}
	for key, info := range devices {
		if strings.EqualFold(key, name) {
			return info, nil
		}
	}
	return device.Info{}, fmt.Errorf("unknown device %q (known: %s)", name, strings.Join(DeviceNames(), ", "))
}

// DeviceNames lists the known device profiles in sorted order.
func DeviceNames() []string {
	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
