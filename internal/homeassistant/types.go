package homeassistant

type sensorConfiguration struct {
	UniqueID           string `json:"unique_id"`
	ObjectID           string `json:"object_id"`
	Name               string `json:"name"`
	DeviceClass        string `json:"device_class,omitempty"`
	StateClass         string `json:"state_class,omitempty"`
	StateTopic         string `json:"state_topic"`
	UnitOfMeasurement  string `json:"unit_of_measurement,omitempty"`
	AvailabilityTopic  string `json:"availability_topic"`
	SuggestedPrecision int    `json:"suggested_display_precision"`
	Device             device `json:"device"`
}

type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}
