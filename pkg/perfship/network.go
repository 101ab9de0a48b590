package perfship

import "time"

// NetworkStatus describes the connection the measurements were taken on.
// The zero value means unknown and is not reported.
type NetworkStatus struct {
	EffectiveType string
	DownlinkMbps  float64
	RTT           time.Duration
	SaveData      bool
}

// IsZero reports whether no network information is set.
func (n NetworkStatus) IsZero() bool {
	return n == NetworkStatus{}
}

// payload renders the status as the "network" payload field.
func (n NetworkStatus) payload() map[string]any {
	return map[string]any{
		"effective_type": n.EffectiveType,
		"downlink_mbps":  n.DownlinkMbps,
		"rtt_ms":         n.RTT.Milliseconds(),
		"save_data":      n.SaveData,
	}
}
