package session

import "errors"

// Error taxonomy. Every error surfaced by the controller matches one of
// these with errors.Is.
var (
	ErrDeviceUnavailable      = errors.New("audio device unavailable")
	ErrRecognitionUnsupported = errors.New("speech recognition unsupported")
	ErrRecognitionTransient   = errors.New("speech recognition error")
	ErrRecognitionTermination = errors.New("speech recognition terminated")
	ErrCaptureFailed          = errors.New("audio capture failed")
	ErrRemoteSubmit           = errors.New("remote submission failed")
	ErrFinalize               = errors.New("remote finalize failed")
)

// Presenter kinds for warnings and fatal errors.
const (
	KindDeviceUnavailable      = "device-unavailable"
	KindRecognitionUnsupported = "recognition-unsupported"
	KindRecognitionTransient   = "recognition-transient"
	KindRecognitionTermination = "recognition-termination"
	KindCaptureFailed          = "capture-failed"
	KindRemoteSubmit           = "remote-submit"
	KindFinalize               = "finalize"
	KindUnknown                = "unknown"
)

// Kind maps err onto its presenter kind.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, ErrRecognitionUnsupported):
		return KindRecognitionUnsupported
	case errors.Is(err, ErrRecognitionTransient):
		return KindRecognitionTransient
	case errors.Is(err, ErrRecognitionTermination):
		return KindRecognitionTermination
	case errors.Is(err, ErrCaptureFailed):
		return KindCaptureFailed
	case errors.Is(err, ErrRemoteSubmit):
		return KindRemoteSubmit
	case errors.Is(err, ErrFinalize):
		return KindFinalize
	default:
		return KindUnknown
	}
}
