package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	backUltraWide = Device{ID: "0", Name: "Back Ultra Wide Camera", Kind: KindVideo, Type: TypeUltraWide, Position: PositionBack}
	backWide      = Device{ID: "1", Name: "Back Camera", Kind: KindVideo, Type: TypeWideAngle, Position: PositionBack}
	frontWide     = Device{ID: "2", Name: "Front Camera", Kind: KindVideo, Type: TypeWideAngle, Position: PositionFront}
	microphone    = Device{ID: "0", Name: "Built-in Microphone", Kind: KindAudio, Type: TypeMicrophone, Position: PositionUnspecified}
)

type fakeRunner struct {
	outputs map[string]string
	err     error
}

func (f fakeRunner) Run(_ context.Context, name string, _ ...string) ([]byte, error) {
	return []byte(f.outputs[name]), f.err
}

func TestSelect_PrefersFirstAvailableInOrder(t *testing.T) {
	d := StaticDiscoverer{backWide, backUltraWide, microphone}

	got, err := Select(context.Background(), d, KindVideo, PositionBack, []Type{TypeUltraWide, TypeWideAngle})
	require.NoError(t, err)
	assert.Equal(t, backUltraWide, got)
}

func TestSelect_FallsBackToWideAngle(t *testing.T) {
	d := StaticDiscoverer{backWide, microphone}

	got, err := Select(context.Background(), d, KindVideo, PositionBack, []Type{TypeUltraWide, TypeWideAngle})
	require.NoError(t, err)
	assert.Equal(t, backWide, got)
}

func TestSelect_RespectsPosition(t *testing.T) {
	d := StaticDiscoverer{frontWide, backWide}

	got, err := Select(context.Background(), d, KindVideo, PositionFront, []Type{TypeWideAngle})
	require.NoError(t, err)
	assert.Equal(t, frontWide, got)

	got, err = Select(context.Background(), d, KindVideo, PositionUnspecified, []Type{TypeWideAngle})
	require.NoError(t, err)
	assert.Equal(t, frontWide, got, "unspecified position should take the first listed match")
}

func TestSelect_Unavailable(t *testing.T) {
	d := StaticDiscoverer{frontWide, microphone}

	_, err := Select(context.Background(), d, KindVideo, PositionBack, []Type{TypeUltraWide, TypeTelephoto})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, KindVideo, unavailable.Kind)
	assert.Equal(t, []Type{TypeUltraWide, TypeTelephoto}, unavailable.Tried)
}

func TestSelect_EmptyPreference(t *testing.T) {
	_, err := Select(context.Background(), StaticDiscoverer{backWide}, KindVideo, PositionBack, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSelect_AllPreferenceOrders(t *testing.T) {
	present := StaticDiscoverer{backWide, {ID: "5", Name: "Telephoto", Kind: KindVideo, Type: TypeTelephoto, Position: PositionBack}}
	orders := [][]Type{
		{TypeUltraWide, TypeWideAngle, TypeTelephoto},
		{TypeTelephoto, TypeWideAngle},
		{TypeExternal, TypeUltraWide, TypeTelephoto},
		{TypeWideAngle},
	}

	for _, order := range orders {
		got, err := Select(context.Background(), present, KindVideo, PositionBack, order)
		require.NoError(t, err)

		var want Type
		for _, candidate := range order {
			if candidate == TypeWideAngle || candidate == TypeTelephoto {
				want = candidate
				break
			}
		}
		assert.Equal(t, want, got.Type, "order %v", order)
	}
}

func TestSelect_DiscoveryError(t *testing.T) {
	d := NewFFmpegDiscoverer(fakeRunner{err: errors.New("exec: not found")}, "linux")

	_, err := Select(context.Background(), d, KindAudio, PositionUnspecified, DefaultAudioPreference)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

const avfoundationListing = `[AVFoundation indev @ 0x7fb1c1c04a80] AVFoundation video devices:
[AVFoundation indev @ 0x7fb1c1c04a80] [0] FaceTime HD Camera
[AVFoundation indev @ 0x7fb1c1c04a80] [1] iPhone Back Ultra Wide Camera
[AVFoundation indev @ 0x7fb1c1c04a80] [2] Capture screen 0
[AVFoundation indev @ 0x7fb1c1c04a80] AVFoundation audio devices:
[AVFoundation indev @ 0x7fb1c1c04a80] [0] MacBook Pro Microphone
: Input/output error`

func TestFFmpegDiscoverer_AVFoundation(t *testing.T) {
	d := NewFFmpegDiscoverer(fakeRunner{outputs: map[string]string{"ffmpeg": avfoundationListing}, err: errors.New("exit status 1")}, "darwin")

	video, err := d.Devices(context.Background(), KindVideo)
	require.NoError(t, err)
	require.Len(t, video, 2, "screen capture should be skipped")
	assert.Equal(t, Device{ID: "0", Name: "FaceTime HD Camera", Kind: KindVideo, Type: TypeWideAngle, Position: PositionFront}, video[0])
	assert.Equal(t, TypeUltraWide, video[1].Type)
	assert.Equal(t, PositionBack, video[1].Position)

	audio, err := d.Devices(context.Background(), KindAudio)
	require.NoError(t, err)
	require.Len(t, audio, 1)
	assert.Equal(t, "MacBook Pro Microphone", audio[0].Name)
	assert.Equal(t, TypeMicrophone, audio[0].Type)
}

func TestFFmpegDiscoverer_Linux(t *testing.T) {
	outputs := map[string]string{
		"v4l2-ctl": "Integrated Camera: Integrated C (usb-0000:00:14.0-8):\n\t/dev/video0\n\t/dev/video1\n\nUSB Capture HDMI (usb-0000:00:14.0-2):\n\t/dev/video2\n\t/dev/video3\n",
		"arecord":  "**** List of CAPTURE Hardware Devices ****\ncard 0: PCH [HDA Intel PCH], device 0: ALC257 Analog [ALC257 Analog]\n  Subdevices: 1/1\n",
	}
	d := NewFFmpegDiscoverer(fakeRunner{outputs: outputs}, "linux")

	video, err := d.Devices(context.Background(), KindVideo)
	require.NoError(t, err)
	require.Len(t, video, 2)
	assert.Equal(t, "/dev/video0", video[0].ID)
	assert.Equal(t, "Integrated Camera: Integrated C", video[0].Name)
	assert.Equal(t, "/dev/video2", video[1].ID)
	assert.Equal(t, TypeExternal, video[1].Type)

	audio, err := d.Devices(context.Background(), KindAudio)
	require.NoError(t, err)
	require.Len(t, audio, 1)
	assert.Equal(t, "hw:0,0", audio[0].ID)
	assert.Equal(t, "HDA Intel PCH: ALC257 Analog", audio[0].Name)
}

func TestFFmpegDiscoverer_UnsupportedOS(t *testing.T) {
	_, err := NewFFmpegDiscoverer(fakeRunner{}, "plan9").Devices(context.Background(), KindVideo)
	assert.Error(t, err)
}

func TestParseTypes(t *testing.T) {
	types, err := ParseTypes([]string{"ultra_wide", " Wide_Angle "})
	require.NoError(t, err)
	assert.Equal(t, []Type{TypeUltraWide, TypeWideAngle}, types)

	_, err = ParseTypes([]string{"fisheye"})
	assert.Error(t, err)
}

func TestParsePosition(t *testing.T) {
	p, err := ParsePosition("")
	require.NoError(t, err)
	assert.Equal(t, PositionUnspecified, p)

	p, err = ParsePosition("BACK")
	require.NoError(t, err)
	assert.Equal(t, PositionBack, p)

	_, err = ParsePosition("side")
	assert.Error(t, err)
}

const pwLinkOutputs = `alsa_output.pci-0000_00_1f.3.analog-stereo:monitor_FL
alsa_output.pci-0000_00_1f.3.analog-stereo:monitor_FR
alsa_input.pci-0000_00_1f.3.analog-stereo:capture_FL
alsa_input.pci-0000_00_1f.3.analog-stereo:capture_FR
alsa_input.usb-Blue_Microphones_Yeti-00.analog-stereo:capture_FL
Firefox:output_FL
zoom_capture:capture_1
`

func TestPipeWireDiscoverer_Microphones(t *testing.T) {
	d := NewPipeWireDiscoverer(fakeRunner{outputs: map[string]string{"pw-link": pwLinkOutputs}})

	audio, err := d.Devices(context.Background(), KindAudio)
	require.NoError(t, err)
	require.Len(t, audio, 2, "one device per capture node, no monitors or apps")
	assert.Equal(t, PulsePrefix+"alsa_input.pci-0000_00_1f.3.analog-stereo", audio[0].ID)
	assert.Equal(t, "pci 0000 00 1f.3", audio[0].Name)
	assert.Equal(t, TypeMicrophone, audio[0].Type)
	assert.Equal(t, "usb Blue Microphones Yeti 00", audio[1].Name)
}

func TestPipeWireDiscoverer_CamerasUseV4L2(t *testing.T) {
	outputs := map[string]string{"v4l2-ctl": "Integrated Camera (usb-0000:00:14.0-8):\n\t/dev/video0\n"}
	d := NewPipeWireDiscoverer(fakeRunner{outputs: outputs})

	video, err := d.Devices(context.Background(), KindVideo)
	require.NoError(t, err)
	require.Len(t, video, 1)
	assert.Equal(t, "/dev/video0", video[0].ID)
}

func TestPipeWireDiscoverer_Error(t *testing.T) {
	d := NewPipeWireDiscoverer(fakeRunner{err: errors.New("pw-link: not found")})

	_, err := d.Devices(context.Background(), KindAudio)
	assert.ErrorContains(t, err, "failed to list PipeWire ports")
}

func TestDetermineBackend(t *testing.T) {
	found := func(string) (string, error) { return "/usr/bin/pw-link", nil }
	missing := func(string) (string, error) { return "", errors.New("not found") }

	tests := []struct {
		backend string
		goos    string
		look    func(string) (string, error)
		want    BackendType
	}{
		{"ffmpeg", "linux", found, BackendTypeFFmpeg},
		{"pipewire", "darwin", missing, BackendTypePipeWire},
		{"auto", "linux", found, BackendTypePipeWire},
		{"auto", "linux", missing, BackendTypeFFmpeg},
		{"", "darwin", found, BackendTypeFFmpeg},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, determineBackend(tt.backend, tt.goos, tt.look), "%s on %s", tt.backend, tt.goos)
	}
}
