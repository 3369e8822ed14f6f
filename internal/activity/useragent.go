package activity

import (
	"strings"

	"github.com/mileusna/useragent"
)

type Device struct {
	Type    string
	OS      string
	Browser string
}

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

func ParseUserAgent(raw string) Device {
	if strings.TrimSpace(raw) == "" {
		return Device{Type: DeviceUnknown, OS: DeviceUnknown, Browser: DeviceUnknown}
	}
	ua := useragent.Parse(raw)

	device := Device{
		Type:    DeviceUnknown,
		OS:      orUnknown(ua.OS),
		Browser: orUnknown(ua.Name),
	}
	switch {
	case ua.Bot:
		device.Type = DeviceBot
	case ua.Tablet:
		device.Type = DeviceTablet
	case ua.Mobile:
		device.Type = DeviceMobile
	case ua.Desktop:
		device.Type = DeviceDesktop
	}
	return device
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return DeviceUnknown
	}
	return value
}
