package mqtt

import "github.com/nugget/resume-interviewer/internal/buildinfo"

// DeviceInfo is the Home Assistant device registry block shared by every
// sensor this instance publishes, so HA groups them on one device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor discovery
// message.
type SensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
}

// NewDeviceInfo creates a DeviceInfo. The instance ID is the stable HA
// identifier; the device name is what the HA UI shows.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "nugget",
		Model:        "Resume Interviewer",
		SWVersion:    buildinfo.Version,
	}
}
