package types

import "time"

// Device states as reported over the wire.
const (
	DeviceStateFree    = "free"
	DeviceStateGrabbed = "grabbed"
)

// DeviceInfo is a snapshot of one input device known to the registry.
type DeviceInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Path         string   `json:"path"`
	Vendor       uint16   `json:"vendor"`
	Product      uint16   `json:"product"`
	Phys         string   `json:"phys,omitempty"`
	Capabilities []string `json:"capabilities"`
	State        string   `json:"state"`

	// Rdev is the node's device number. A changed rdev at the same path
	// means a different physical device took over the node.
	Rdev uint64 `json:"-"`
}

// InputEvent is a single normalized kernel input event. Time is a
// monotonic-ish capture timestamp in nanoseconds, used only to compute
// relative delays between consecutive events.
type InputEvent struct {
	Device string `json:"device"`
	Type   uint16 `json:"type"`
	Code   uint16 `json:"code"`
	Value  int32  `json:"value"`
	Time   int64  `json:"time"`
}

// MacroSummary is the listing form of a macro; the full event sequence
// stays daemon-side unless a profile is exported.
type MacroSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	EventCount int       `json:"eventCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// StatusInfo is returned by the status method.
type StatusInfo struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	DeviceCount   int    `json:"deviceCount"`
	MacroCount    int    `json:"macroCount"`
}
