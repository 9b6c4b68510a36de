package modern

import (
	"github.com/smazurov/virtualcam/internal/surface"
)

// ImageFormatJPEG is the image format code readers declare for JPEG.
const ImageFormatJPEG = 256

// SessionKind is which capture-session factory the client called.
type SessionKind int

const (
	KindDefault SessionKind = iota
	KindOutputConfigurations
	KindConstrainedHighSpeed
	KindReprocessable
	KindReprocessableByConfigurations
	KindSessionConfiguration
)

func (k SessionKind) String() string {
	switch k {
	case KindOutputConfigurations:
		return "output-configurations"
	case KindConstrainedHighSpeed:
		return "constrained-high-speed"
	case KindReprocessable:
		return "reprocessable"
	case KindReprocessableByConfigurations:
		return "reprocessable-by-configurations"
	case KindSessionConfiguration:
		return "session-configuration"
	default:
		return "default"
	}
}

// InputConfig is the reprocessing input of a reprocessable session.
type InputConfig struct {
	Width  int
	Height int
	Format int
}

// StateCallback receives capture-session state changes. Nil fields are
// skipped.
type StateCallback struct {
	Configured      func()
	ConfigureFailed func()
	Closed          func()
}

// SessionRequest is a capture-session creation call in any of its forms.
type SessionRequest struct {
	Kind     SessionKind
	Outputs  []surface.Surface
	Input    *InputConfig
	Callback *StateCallback
}

// wrapCallback logs each state change before handing it to cb.
func (s *Session) wrapCallback(cb *StateCallback) *StateCallback {
	if cb == nil {
		cb = &StateCallback{}
	}
	logger := s.logger
	return &StateCallback{
		Configured: func() {
			logger.Info("Capture session configured")
			if cb.Configured != nil {
				cb.Configured()
			}
		},
		ConfigureFailed: func() {
			logger.Warn("Capture session configuration failed")
			if cb.ConfigureFailed != nil {
				cb.ConfigureFailed()
			}
		},
		Closed: func() {
			logger.Info("Capture session closed")
			if cb.Closed != nil {
				cb.Closed()
			}
		},
	}
}
