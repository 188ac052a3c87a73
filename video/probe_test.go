package video

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vansante/go-ffprobe.v2"
)

func TestItRejectsWhenNoVideoTrackPresent(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "audio",
			},
		},
	})
	require.ErrorContains(t, err, "no video stream found")
}

func TestItRejectsWhenMJPEGVideoTrackPresent(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
				CodecName: "mjpeg",
			},
		},
	})
	require.ErrorContains(t, err, "mjpeg is not supported")
}

func TestItRejectsWhenFormatMissing(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
			},
		},
	})
	require.ErrorContains(t, err, "format information missing")
}

func TestUnknownBitrateStaysZero(t *testing.T) {
	require := require.New(t)
	iv, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
				CodecName: "h264",
				Width:     1280,
				Height:    720,
			},
		},
		Format: &ffprobe.Format{
			Size: "1024",
		},
	})
	require.NoError(err)
	track, err := iv.GetTrack(TrackTypeVideo)
	require.NoError(err)
	require.Zero(track.Bitrate)
	require.Equal(int64(1280), track.Width)
	require.Equal(int64(720), track.Height)
}

func TestProbeOutputWithAudio(t *testing.T) {
	require := require.New(t)
	iv, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
				CodecName: "h264",
				BitRate:   "5000000",
				Width:     1920,
				Height:    1080,
			},
			{
				CodecType:  "audio",
				CodecName:  "aac",
				BitRate:    "128000",
				Channels:   2,
				SampleRate: "48000",
			},
		},
		Format: &ffprobe.Format{
			FormatName:      "mov,mp4,m4a,3gp,3g2,mj2",
			DurationSeconds: 120.5,
			Size:            "2779520",
		},
	})
	require.NoError(err)

	videoTrack, err := iv.GetTrack(TrackTypeVideo)
	require.NoError(err)
	require.Equal("h264", videoTrack.Codec)
	require.Equal(int64(5000000), videoTrack.Bitrate)

	audioTrack, err := iv.GetTrack(TrackTypeAudio)
	require.NoError(err)
	require.Equal("aac", audioTrack.Codec)
	require.Equal(2, audioTrack.Channels)
	require.Equal(48000, audioTrack.SampleRate)

	require.Equal(120.5, iv.Duration)
	require.Equal(int64(2779520), iv.SizeBytes)
}

func TestParseFps(t *testing.T) {
	require := require.New(t)

	fps, err := parseFps("30000/1001")
	require.NoError(err)
	require.InDelta(29.97, fps, 0.01)

	fps, err = parseFps("25")
	require.NoError(err)
	require.Equal(25.0, fps)

	fps, err = parseFps("")
	require.NoError(err)
	require.Zero(fps)

	fps, err = parseFps("0/0")
	require.NoError(err)
	require.Zero(fps)

	_, err = parseFps("25/0")
	require.ErrorContains(err, "invalid framerate denominator")
}
