package video

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenditionByName(t *testing.T) {
	require := require.New(t)

	r, err := RenditionByName("720p")
	require.NoError(err)
	require.Equal(int64(720), r.Height)
	require.Equal(int64(2500), r.BitrateKbps)

	_, err = RenditionByName("144p")
	require.ErrorContains(err, "unsupported resolution")

	// 360p appears in the bitrate table but is not a delivery rendition
	_, err = RenditionByName("360p")
	require.Error(err)
}

func TestNormalizeBitrate(t *testing.T) {
	require := require.New(t)

	for input, want := range map[string]string{
		"1500k": "1500k",
		"1500":  "1500k",
		"1500K": "1500k",
		" 800k": "800k",
	} {
		got, err := NormalizeBitrate(input)
		require.NoError(err, input)
		require.Equal(want, got, input)
	}

	for _, input := range []string{"", "fast", "1.5M", "-500k", "0"} {
		_, err := NormalizeBitrate(input)
		require.Error(err, input)
	}
}

func TestValidateBitrate(t *testing.T) {
	require := require.New(t)

	// Empty request picks the highest allowed value
	got, err := ValidateBitrate("h264", "720p", "")
	require.NoError(err)
	require.Equal("3500k", got)

	got, err = ValidateBitrate("h265", "2160p", "")
	require.NoError(err)
	require.Equal("12000k", got)

	// A provided value must be in the table
	got, err = ValidateBitrate("h264", "720p", "2500")
	require.NoError(err)
	require.Equal("2500k", got)

	_, err = ValidateBitrate("h264", "720p", "9999k")
	require.ErrorContains(err, "not allowed")

	_, err = ValidateBitrate("av1", "720p", "")
	require.ErrorContains(err, "unsupported codec")

	_, err = ValidateBitrate("h264", "333p", "")
	require.ErrorContains(err, "unsupported resolution")
}

func TestParamsForRendition(t *testing.T) {
	require := require.New(t)
	hd, err := RenditionByName("1080p")
	require.NoError(err)

	// Source taller than target keeps the ladder values
	params, err := ParamsForRendition(hd, "h264", 2160, 18000, "aac")
	require.NoError(err)
	require.Equal("scale=-2:1080", params.ScaleFilter)
	require.Equal("libx264", params.VideoCodec)
	require.Equal("5000k", params.Bitrate)
	require.Equal("copy", params.AudioCodec)

	// Source smaller than target clamps height and takes 80% of the
	// source bitrate
	params, err = ParamsForRendition(hd, "h264", 720, 3000, "mp3")
	require.NoError(err)
	require.Equal("scale=-2:720", params.ScaleFilter)
	require.Equal("2400k", params.Bitrate)
	require.Equal("aac", params.AudioCodec)

	// Unknown source bitrate keeps the ladder bitrate when clamped
	params, err = ParamsForRendition(hd, "h264", 720, 0, "aac")
	require.NoError(err)
	require.Equal("scale=-2:720", params.ScaleFilter)
	require.Equal("5000k", params.Bitrate)

	// Unknown source height keeps the target
	params, err = ParamsForRendition(hd, "h265", 0, 0, "")
	require.NoError(err)
	require.Equal("scale=-2:1080", params.ScaleFilter)
	require.Equal("libx265", params.VideoCodec)

	_, err = ParamsForRendition(hd, "vp9", 2160, 0, "aac")
	require.ErrorContains(err, "unsupported codec")
}
