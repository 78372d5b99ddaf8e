package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrDeviceUnavailable is returned when no audio source can be resolved.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
	DirectionDuplex
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	case DirectionDuplex:
		return "duplex"
	default:
		return "unknown"
	}
}

// Device describes one enumerated audio endpoint. IDs are only meaningful
// within the enumeration that produced them.
type Device struct {
	ID               string
	Name             string
	HostAPI          string
	Direction        Direction
	LoopbackCapable  bool
	NativeSampleRate float64
	MaxInputChannels int
}

// CanCapture reports whether the device can be opened as an input.
func (d Device) CanCapture() bool {
	return d.MaxInputChannels > 0
}

// Mode selects what the user wants captioned.
type Mode string

const (
	ModeLoopback   Mode = "loopback"
	ModeMicrophone Mode = "microphone"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLoopback, "internal", "system":
		return ModeLoopback, nil
	case ModeMicrophone, "mic":
		return ModeMicrophone, nil
	default:
		return "", fmt.Errorf("unknown audio source %q", s)
	}
}

// DeviceBackend is the platform audio API as seen by the selector.
type DeviceBackend interface {
	// Devices enumerates every endpoint currently present.
	Devices() ([]Device, error)

	// DefaultLoopback returns the loopback input mirroring the default output
	// of the preferred low-latency host API, if that API offers one.
	DefaultLoopback() (Device, bool)

	// DefaultInput returns the system default input device.
	DefaultInput() (Device, bool)
}

// Name fragments of inputs that capture system output.
var loopbackNamePatterns = []string{
	"stereo mix",
	"what u hear",
	"wave out mix",
	"loopback",
	"monitor of",
	"blackhole",
	"soundflower",
}

func isLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range loopbackNamePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsLoopback reports whether d captures system output, natively or as a
// driver mix input.
func (d Device) IsLoopback() bool {
	return d.LoopbackCapable || isLoopbackName(d.Name)
}

// DeviceSelector resolves the capture device for a session. It only queries
// the backend and never opens a stream.
type DeviceSelector struct {
	backend DeviceBackend
	log     zerolog.Logger
}

func NewDeviceSelector(backend DeviceBackend, log zerolog.Logger) *DeviceSelector {
	return &DeviceSelector{backend: backend, log: log}
}

// ListDevices returns the devices that can be captured from.
func (s *DeviceSelector) ListDevices() ([]Device, error) {
	all, err := s.backend.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	devices := make([]Device, 0, len(all))
	for _, d := range all {
		if d.CanCapture() {
			devices = append(devices, d)
		}
	}
	return devices, nil
}

// Resolve picks the device for mode. Order: the explicit id if it is still
// enumerable; for loopback the native loopback of the preferred host API,
// then an input whose name looks like a system mix; finally the default
// input device.
func (s *DeviceSelector) Resolve(mode Mode, explicitID string) (Device, error) {
	devices, err := s.ListDevices()
	if err != nil {
		return Device{}, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	if explicitID != "" {
		for _, d := range devices {
			if d.ID == explicitID {
				return d, nil
			}
		}
		s.log.Warn().Str("device_id", explicitID).Msg("configured device not found, falling back")
	}

	if mode == ModeLoopback {
		if d, ok := s.backend.DefaultLoopback(); ok && d.CanCapture() {
			s.log.Debug().Str("device", d.Name).Msg("using native loopback device")
			return d, nil
		}
		for _, d := range devices {
			if d.IsLoopback() {
				s.log.Debug().Str("device", d.Name).Msg("using system mix device")
				return d, nil
			}
		}
	}

	if d, ok := s.backend.DefaultInput(); ok && d.CanCapture() {
		if mode == ModeLoopback {
			s.log.Warn().Str("device", d.Name).Msg("no loopback source found, using default input")
		}
		return d, nil
	}

	return Device{}, fmt.Errorf("%w: no %s source among %d devices", ErrDeviceUnavailable, mode, len(devices))
}
