// Package types defines the records exchanged between the dust client and the collector.
package types

import (
	"encoding/json"
	"time"
)

// AddressRecord is the merged result of the two public address lookups.
// A nil field means that provider failed for this load cycle.
type AddressRecord struct {
	ProviderA json.RawMessage `json:"ipfy"` // generic public-IP echo service
	ProviderB json.RawMessage `json:"ipme"` // collector-operated /ip endpoint
}

// Usable reports whether at least one provider produced a result.
func (a *AddressRecord) Usable() bool {
	return a != nil && (a.ProviderA != nil || a.ProviderB != nil)
}

// MarshalJSON writes failed providers as null instead of omitting them.
func (a AddressRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ProviderA *json.RawMessage `json:"ipfy"`
		ProviderB *json.RawMessage `json:"ipme"`
	}{
		ProviderA: rawOrNil(a.ProviderA),
		ProviderB: rawOrNil(a.ProviderB),
	})
}

// UnmarshalJSON maps null providers back to nil fields.
func (a *AddressRecord) UnmarshalJSON(data []byte) error {
	var w struct {
		ProviderA json.RawMessage `json:"ipfy"`
		ProviderB json.RawMessage `json:"ipme"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	a.ProviderA = nilIfNull(w.ProviderA)
	a.ProviderB = nilIfNull(w.ProviderB)

	return nil
}

func nilIfNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func rawOrNil(raw json.RawMessage) *json.RawMessage {
	if raw == nil {
		return nil
	}
	return &raw
}

// HeartbeatState holds the cumulative heartbeat counters.
// Count == SuccessCount + FailCount after every completed tick.
type HeartbeatState struct {
	Count           uint64
	SuccessCount    uint64
	FailCount       uint64
	LastOutcome     *bool
	LastSuccessTime *time.Time
	LastFailTime    *time.Time
	LastTime        *time.Time // time of the most recently completed tick
}

type beatTime struct {
	Time *int64 `json:"time"`
}

type beatLast struct {
	IsSuccess *bool    `json:"is_success"`
	Success   beatTime `json:"success"`
	Fail      beatTime `json:"fail"`
	Time      *int64   `json:"time"`
}

type beatWire struct {
	Count   uint64   `json:"count"`
	Success uint64   `json:"success"`
	Fail    uint64   `json:"fail"`
	Last    beatLast `json:"last"`
}

// MarshalJSON encodes the state in the collector's beat schema, with times
// as Unix milliseconds.
func (s HeartbeatState) MarshalJSON() ([]byte, error) {
	return json.Marshal(beatWire{
		Count:   s.Count,
		Success: s.SuccessCount,
		Fail:    s.FailCount,
		Last: beatLast{
			IsSuccess: s.LastOutcome,
			Success:   beatTime{Time: millis(s.LastSuccessTime)},
			Fail:      beatTime{Time: millis(s.LastFailTime)},
			Time:      millis(s.LastTime),
		},
	})
}

// UnmarshalJSON decodes the collector's beat schema.
func (s *HeartbeatState) UnmarshalJSON(data []byte) error {
	var w beatWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*s = HeartbeatState{
		Count:           w.Count,
		SuccessCount:    w.Success,
		FailCount:       w.Fail,
		LastOutcome:     w.Last.IsSuccess,
		LastSuccessTime: fromMillis(w.Last.Success.Time),
		LastFailTime:    fromMillis(w.Last.Fail.Time),
		LastTime:        fromMillis(w.Last.Time),
	}

	return nil
}

func millis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}

// Screen holds display metrics.
type Screen struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AvailWidth  int     `json:"availWidth"`
	AvailHeight int     `json:"availHeight"`
	ColorDepth  int     `json:"colorDepth"`
	PixelRatio  float64 `json:"pixelRatio"`
}

// Hardware holds memory, CPU and GPU hints.
type Hardware struct {
	DeviceMemory *float64 `json:"deviceMemory"`
	Cores        *int     `json:"cores"`
	GPU          *string  `json:"gpu"`
	WebGLVendor  *string  `json:"webglVendor"`
}

// Network holds network-information hints.
type Network struct {
	ConnectionType *string `json:"connectionType"`
	Downlink       *string `json:"downlink"`
	RTT            *int    `json:"rtt"`
	SaveData       bool    `json:"saveData"`
}

// Browser holds the legacy navigator identification strings.
type Browser struct {
	AppCodeName string `json:"appCodeName"`
	AppName     string `json:"appName"`
	AppVersion  string `json:"appVersion"`
	Product     string `json:"product"`
	ProductSub  string `json:"productSub"`
	Vendor      string `json:"vendor"`
	VendorSub   string `json:"vendorSub"`
}

// DeviceSnapshot is the one-shot device fingerprint sent at load time.
type DeviceSnapshot struct {
	IPAddress      *AddressRecord `json:"ipAddress"`
	UserAgent      string         `json:"userAgent"`
	Platform       string         `json:"platform"`
	Language       string         `json:"language"`
	Languages      []string       `json:"languages"`
	Screen         *Screen        `json:"screen"`
	Hardware       Hardware       `json:"hardware"`
	Network        Network        `json:"network"`
	Browser        Browser        `json:"browser"`
	Timezone       *string        `json:"timezone"`
	Locale         *string        `json:"locale"`
	TouchSupport   bool           `json:"touchSupport"`
	CookiesEnabled bool           `json:"cookiesEnabled"`
	JavaEnabled    *bool          `json:"javaEnabled"`
	DoNotTrack     bool           `json:"doNotTrack"`
}

// Report is the device-info payload posted to the collector.
type Report struct {
	Beat   HeartbeatState `json:"beat"`
	Device DeviceSnapshot `json:"device"`
	R      string         `json:"r"`
}
