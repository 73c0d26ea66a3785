package session

// DeviceErrorKind distinguishes microphone failure causes; each maps to a
// distinct, user-actionable message.
type DeviceErrorKind string

const (
	DeviceNotFound         DeviceErrorKind = "not_found"
	DeviceNotAccessible    DeviceErrorKind = "not_accessible"
	DevicePermissionDenied DeviceErrorKind = "permission_denied"
)

// DeviceError indicates the microphone could not be acquired. Fatal to the
// current connect attempt, never to the app.
type DeviceError struct {
	Kind DeviceErrorKind
}

func (e *DeviceError) Error() string {
	return "device: " + string(e.Kind)
}

// UserMessage returns the actionable message for the failure kind.
func (e *DeviceError) UserMessage() string {
	switch e.Kind {
	case DeviceNotFound:
		return "No microphone was found. Plug one in or select a different input device."
	case DeviceNotAccessible:
		return "The microphone is in use by another application. Close it and try again."
	case DevicePermissionDenied:
		return "Microphone access was denied. Allow microphone permission and try again."
	default:
		return "The microphone could not be opened."
	}
}
