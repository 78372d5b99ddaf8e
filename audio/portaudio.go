package audio

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// PortAudio is the hardware backend: device enumeration and callback input
// streams through the PortAudio library.
type PortAudio struct {
	preferred portaudio.HostApiType
	log       zerolog.Logger
}

// NewPortAudio returns a backend that looks for native loopback inputs on the
// preferred host API.
func NewPortAudio(preferred portaudio.HostApiType, log zerolog.Logger) *PortAudio {
	return &PortAudio{preferred: preferred, log: log}
}

// PreferredHostAPI returns the low-latency host API for goos.
func PreferredHostAPI(goos string) portaudio.HostApiType {
	switch goos {
	case "windows":
		return portaudio.WASAPI
	case "darwin":
		return portaudio.CoreAudio
	default:
		return portaudio.ALSA
	}
}

// DefaultHostAPI is PreferredHostAPI for the running platform.
func DefaultHostAPI() portaudio.HostApiType {
	return PreferredHostAPI(runtime.GOOS)
}

func (p *PortAudio) Initialize() error {
	return portaudio.Initialize()
}

func (p *PortAudio) Terminate() {
	if err := portaudio.Terminate(); err != nil {
		p.log.Warn().Err(err).Msg("terminate portaudio")
	}
}

func (p *PortAudio) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, toDevice(info))
	}
	return devices, nil
}

func (p *PortAudio) DefaultLoopback() (Device, bool) {
	api, err := portaudio.HostApi(p.preferred)
	if err != nil || api == nil || api.DefaultOutputDevice == nil {
		return Device{}, false
	}
	output := strings.ToLower(api.DefaultOutputDevice.Name)
	for _, info := range api.Devices {
		if info.MaxInputChannels == 0 {
			continue
		}
		name := strings.ToLower(info.Name)
		if strings.Contains(name, output) && strings.Contains(name, "loopback") {
			return toDevice(info), true
		}
	}
	return Device{}, false
}

func (p *PortAudio) DefaultInput() (Device, bool) {
	info, err := portaudio.DefaultInputDevice()
	if err != nil || info == nil {
		return Device{}, false
	}
	return toDevice(info), true
}

func (p *PortAudio) OpenStream(params StreamParams, callback func(in []float32)) (Stream, error) {
	info, err := p.lookup(params.Device.ID)
	if err != nil {
		return nil, err
	}
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: params.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      params.SampleRate,
		FramesPerBuffer: params.FramesPerBuffer,
	}, callback)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// lookup re-enumerates to find the device behind id.
func (p *PortAudio) lookup(id string) (*portaudio.DeviceInfo, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if deviceID(info) == id {
			return info, nil
		}
	}
	return nil, fmt.Errorf("device %q is no longer present", id)
}

func deviceID(info *portaudio.DeviceInfo) string {
	api := "unknown"
	if info.HostApi != nil {
		api = info.HostApi.Name
	}
	return api + "/" + info.Name
}

func toDevice(info *portaudio.DeviceInfo) Device {
	dir := DirectionInput
	switch {
	case info.MaxInputChannels > 0 && info.MaxOutputChannels > 0:
		dir = DirectionDuplex
	case info.MaxOutputChannels > 0:
		dir = DirectionOutput
	}
	d := Device{
		ID:               deviceID(info),
		Name:             info.Name,
		Direction:        dir,
		LoopbackCapable:  info.MaxInputChannels > 0 && isLoopbackName(info.Name),
		NativeSampleRate: info.DefaultSampleRate,
		MaxInputChannels: info.MaxInputChannels,
	}
	if info.HostApi != nil {
		d.HostAPI = info.HostApi.Name
	}
	return d
}
