package types

// Notification method names pushed by the daemon. These ride the same
// channel as responses but carry no correlation id.
const (
	NotifyDeviceAdded       = "device_added"
	NotifyDeviceRemoved     = "device_removed"
	NotifyRecordingProgress = "recording_progress"
	NotifyPlaybackProgress  = "playback_progress"
	NotifyPlaybackCompleted = "playback_completed"
	NotifySessionError      = "session_error"
)

type DeviceAddedParams struct {
	Device DeviceInfo `json:"device"`
}

type DeviceRemovedParams struct {
	DeviceID string `json:"deviceId"`
}

type RecordingProgressParams struct {
	Name       string `json:"name"`
	EventCount int    `json:"eventCount"`
}

type PlaybackProgressParams struct {
	MacroID string `json:"macroId"`
	Cursor  int    `json:"cursor"`
}

type PlaybackCompletedParams struct {
	MacroID string `json:"macroId"`
	Emitted int    `json:"emitted"`
}

type SessionErrorParams struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}
