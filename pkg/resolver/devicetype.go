package resolver

import "strings"

// DeviceTypeUnknown is reported when no keyword matches
const DeviceTypeUnknown = "Unknown"

// DeviceTypeRouter is assigned to the gateway
const DeviceTypeRouter = "Router"

type devicePattern struct {
	deviceType string
	keywords   []string
}

// patterns are checked in order, the first match wins
var patterns = []devicePattern{
	{deviceType: "Smartphone", keywords: []string{"iphone", "android", "phone", "samsung", "huawei", "xiaomi"}},
	{deviceType: "Laptop", keywords: []string{"laptop", "macbook", "notebook", "dell", "lenovo", "hp", "asus"}},
	{deviceType: "Tablet", keywords: []string{"ipad", "tablet", "kindle"}},
	{deviceType: "Smart TV", keywords: []string{"tv", "roku", "firestick", "chromecast"}},
	{deviceType: "Gaming", keywords: []string{"playstation", "xbox", "nintendo", "ps4", "ps5"}},
	{deviceType: "IoT", keywords: []string{"camera", "thermostat", "doorbell", "nest", "ring", "echo", "alexa", "espressif"}},
	{deviceType: "Desktop", keywords: []string{"desktop", "pc", "imac", "workstation"}},
	{deviceType: DeviceTypeRouter, keywords: []string{"router", "gateway", "netgear", "tp-link", "ubiquiti", "cisco"}},
}

// GuessDeviceType classifies a device from its hostname and vendor
func GuessDeviceType(hostname, vendor string) string {
	if hostname == "" && vendor == "" {
		return DeviceTypeUnknown
	}
	hostname = strings.ToLower(hostname)
	vendor = strings.ToLower(vendor)

	for _, pattern := range patterns {
		for _, keyword := range pattern.keywords {
			if strings.Contains(hostname, keyword) || strings.Contains(vendor, keyword) {
				return pattern.deviceType
			}
		}
	}
	return DeviceTypeUnknown
}
