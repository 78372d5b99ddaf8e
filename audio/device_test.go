package audio

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	devices  []Device
	err      error
	loopback *Device
	input    *Device
}

func (b *fakeBackend) Devices() ([]Device, error) { return b.devices, b.err }

func (b *fakeBackend) DefaultLoopback() (Device, bool) {
	if b.loopback == nil {
		return Device{}, false
	}
	return *b.loopback, true
}

func (b *fakeBackend) DefaultInput() (Device, bool) {
	if b.input == nil {
		return Device{}, false
	}
	return *b.input, true
}

func mic(id, name string) Device {
	return Device{ID: id, Name: name, Direction: DirectionInput, MaxInputChannels: 1, NativeSampleRate: 48000}
}

func TestResolve_StereoMixWithoutNativeLoopback(t *testing.T) {
	defaultMic := mic("mme/Microphone", "Microphone (Realtek)")
	backend := &fakeBackend{
		devices: []Device{
			defaultMic,
			mic("mme/Stereo Mix", "Stereo Mix (Realtek Audio)"),
			{ID: "mme/Speakers", Name: "Speakers", Direction: DirectionOutput},
		},
		input: &defaultMic,
	}
	s := NewDeviceSelector(backend, zerolog.Nop())

	d, err := s.Resolve(ModeLoopback, "")
	require.NoError(t, err)
	assert.Equal(t, "mme/Stereo Mix", d.ID)
}

func TestResolve_ExplicitIDWins(t *testing.T) {
	loop := mic("wasapi/Speakers [Loopback]", "Speakers [Loopback]")
	backend := &fakeBackend{
		devices:  []Device{loop, mic("wasapi/Headset", "Headset")},
		loopback: &loop,
	}
	s := NewDeviceSelector(backend, zerolog.Nop())

	d, err := s.Resolve(ModeLoopback, "wasapi/Headset")
	require.NoError(t, err)
	assert.Equal(t, "Headset", d.Name)
}

func TestResolve_StaleExplicitIDFallsBack(t *testing.T) {
	loop := mic("wasapi/Speakers [Loopback]", "Speakers [Loopback]")
	backend := &fakeBackend{devices: []Device{loop}, loopback: &loop}
	s := NewDeviceSelector(backend, zerolog.Nop())

	d, err := s.Resolve(ModeLoopback, "wasapi/gone")
	require.NoError(t, err)
	assert.Equal(t, loop.ID, d.ID)
}

func TestResolve_NativeLoopbackBeforeNameMatch(t *testing.T) {
	loop := mic("wasapi/Speakers [Loopback]", "Speakers [Loopback]")
	backend := &fakeBackend{
		devices:  []Device{mic("mme/Stereo Mix", "Stereo Mix"), loop},
		loopback: &loop,
	}
	d, err := NewDeviceSelector(backend, zerolog.Nop()).Resolve(ModeLoopback, "")
	require.NoError(t, err)
	assert.Equal(t, loop.ID, d.ID)
}

func TestResolve_MicrophoneIgnoresLoopbackSources(t *testing.T) {
	defaultMic := mic("alsa/default", "default")
	backend := &fakeBackend{
		devices: []Device{mic("alsa/Monitor of Built-in", "Monitor of Built-in Audio"), defaultMic},
		input:   &defaultMic,
	}
	d, err := NewDeviceSelector(backend, zerolog.Nop()).Resolve(ModeMicrophone, "")
	require.NoError(t, err)
	assert.Equal(t, "alsa/default", d.ID)
}

func TestResolve_LoopbackFallsBackToDefaultInput(t *testing.T) {
	defaultMic := mic("alsa/default", "default")
	backend := &fakeBackend{devices: []Device{defaultMic}, input: &defaultMic}
	d, err := NewDeviceSelector(backend, zerolog.Nop()).Resolve(ModeLoopback, "")
	require.NoError(t, err)
	assert.Equal(t, "alsa/default", d.ID)
}

func TestResolve_Unavailable(t *testing.T) {
	s := NewDeviceSelector(&fakeBackend{}, zerolog.Nop())
	_, err := s.Resolve(ModeLoopback, "")
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	s = NewDeviceSelector(&fakeBackend{err: errors.New("host error")}, zerolog.Nop())
	_, err = s.Resolve(ModeMicrophone, "")
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestListDevices_OnlyCaptureCapable(t *testing.T) {
	backend := &fakeBackend{devices: []Device{
		mic("a", "Mic"),
		{ID: "b", Name: "Speakers", Direction: DirectionOutput},
	}}
	devices, err := NewDeviceSelector(backend, zerolog.Nop()).ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "a", devices[0].ID)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Loopback")
	require.NoError(t, err)
	assert.Equal(t, ModeLoopback, m)

	m, err = ParseMode("internal")
	require.NoError(t, err)
	assert.Equal(t, ModeLoopback, m)

	m, err = ParseMode("mic")
	require.NoError(t, err)
	assert.Equal(t, ModeMicrophone, m)

	_, err = ParseMode("bluetooth")
	assert.Error(t, err)
}

func TestIsLoopbackName(t *testing.T) {
	assert.True(t, isLoopbackName("Stereo Mix (Realtek(R) Audio)"))
	assert.True(t, isLoopbackName("Monitor of Built-in Audio Analog Stereo"))
	assert.True(t, isLoopbackName("BlackHole 2ch"))
	assert.False(t, isLoopbackName("USB Microphone"))
}
