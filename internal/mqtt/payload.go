package mqtt

import "encoding/json"

// Session health strings carried in status and will payloads.
const (
	HealthOnline  = "Online"
	HealthOffline = "Offline"
)

// StatusMessage is published to the status topic on every status
// interval and after every handled command.
type StatusMessage struct {
	Host     string `json:"host"`
	Version  string `json:"version"`
	Seq      uint32 `json:"seq"`
	Health   string `json:"wifi"`
	RSSI     int    `json:"rssi"`
	Actuator string `json:"actuator"`
}

// TelemetryMessage is published to the status topic once per sensor on
// every status interval.
type TelemetryMessage struct {
	Host      string  `json:"host"`
	Sensor    int     `json:"sensor"`
	TempC     float64 `json:"tempC"`
	TempF     float64 `json:"tempF"`
	Valid     bool    `json:"valid"`
	Supply    float64 `json:"vcc"`
	RunTimeMS uint32  `json:"runtime_ms"`
}

// WillMessage is the retained last-will payload.
type WillMessage struct {
	Host   string `json:"host"`
	Health string `json:"wifi"`
}

// Encode marshals v as JSON and truncates the result to limit bytes.
// A truncated payload is no longer valid JSON; truncated reports it so
// the caller can log. The broker-side size limit is real on the
// devices this models, so the payload never grows past it.
func Encode(v any, limit int) (payload []byte, truncated bool, err error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	if limit > 0 && len(b) > limit {
		return b[:limit], true, nil
	}
	return b, false, nil
}
