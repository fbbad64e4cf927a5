package protocol

import "strings"

// DeviceClass decides how refresh works: mobile clients rotate a refresh
// credential they hold, web clients ride the session cookie.
type DeviceClass string

const (
	DeviceWeb    DeviceClass = "web"
	DeviceMobile DeviceClass = "mobile"
)

// ClientTypeHeader lets a client state its class explicitly.
const ClientTypeHeader = "X-Client-Type"

var mobileMarkers = []string{"mobile", "android", "iphone"}

// ClassifyDevice prefers an explicit client type and falls back to a
// user-agent heuristic. Unknown clients are web.
func ClassifyDevice(userAgent, clientType string) DeviceClass {
	switch strings.ToLower(strings.TrimSpace(clientType)) {
	case string(DeviceMobile):
		return DeviceMobile
	case string(DeviceWeb):
		return DeviceWeb
	}
	ua := strings.ToLower(userAgent)
	for _, m := range mobileMarkers {
		if strings.Contains(ua, m) {
			return DeviceMobile
		}
	}
	return DeviceWeb
}
