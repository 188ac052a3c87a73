package video

import (
	"fmt"
	"strconv"
	"strings"
)

// Rendition is one rung of the delivery ladder. Bitrates are kept in kbps
// because that is the unit the encoder arguments and the validation table
// speak.
type Rendition struct {
	Name        string
	Height      int64
	BitrateKbps int64
}

var DefaultRenditions = []Rendition{
	{Name: "480p", Height: 480, BitrateKbps: 1200},
	{Name: "720p", Height: 720, BitrateKbps: 2500},
	{Name: "1080p", Height: 1080, BitrateKbps: 5000},
	{Name: "2160p", Height: 2160, BitrateKbps: 12000},
}

// DefaultCodec is assumed when a segment request does not name one.
const DefaultCodec = "h264"

func RenditionByName(name string) (Rendition, error) {
	for _, r := range DefaultRenditions {
		if r.Name == name {
			return r, nil
		}
	}
	return Rendition{}, fmt.Errorf("unsupported resolution: %s", name)
}

// allowedBitrates lists the bitrates (kbps) a caller may request per codec
// and resolution.
var allowedBitrates = map[string]map[string][]int64{
	"h264": {
		"360p":  {500, 800},
		"480p":  {1000, 1500},
		"720p":  {2500, 3500},
		"1080p": {4500, 6000},
		"2160p": {12000, 20000},
	},
	"h265": {
		"360p":  {350, 500},
		"480p":  {700, 1100},
		"720p":  {1500, 2500},
		"1080p": {3000, 4500},
		"2160p": {8000, 12000},
	},
}

// NormalizeBitrate folds caller input into the canonical "<int>k" form.
func NormalizeBitrate(bitrate string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(bitrate))
	if strings.HasSuffix(s, "k") {
		s = strings.TrimSuffix(s, "k")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid bitrate %q", bitrate)
	}
	return strconv.FormatInt(n, 10) + "k", nil
}

// ValidateBitrate resolves the bitrate to encode at. An empty request picks
// the highest bitrate the table allows for the codec and resolution; a
// provided one must normalize to a value in the table.
func ValidateBitrate(codec, resolution, requested string) (string, error) {
	if _, ok := allowedBitrates[codec]; !ok {
		return "", fmt.Errorf("unsupported codec: %s", codec)
	}
	allowed, ok := allowedBitrates[codec][resolution]
	if !ok {
		return "", fmt.Errorf("unsupported resolution for codec %s: %s", codec, resolution)
	}
	if requested == "" {
		max := allowed[0]
		for _, b := range allowed[1:] {
			if b > max {
				max = b
			}
		}
		return strconv.FormatInt(max, 10) + "k", nil
	}
	norm, err := NormalizeBitrate(requested)
	if err != nil {
		return "", err
	}
	for _, b := range allowed {
		if norm == strconv.FormatInt(b, 10)+"k" {
			return norm, nil
		}
	}
	return "", fmt.Errorf("bitrate %s not allowed for %s %s", norm, codec, resolution)
}

// EncodeParams are the encoder arguments shared by the single-segment and
// continuous encodes of one (video, resolution) output.
type EncodeParams struct {
	ScaleFilter string
	VideoCodec  string
	Bitrate     string
	AudioCodec  string
	SegmentSecs float64
}

var codecArgs = map[string]string{
	"h264": "libx264",
	"h265": "libx265",
}

// ParamsForRendition resolves the encoder arguments for a target rendition,
// clamping the target down when the source is smaller. A source with a known
// bitrate that gets clamped is encoded at 80% of that bitrate. SegmentSecs is
// left for the caller to fill from the playlist.
func ParamsForRendition(rendition Rendition, codec string, sourceHeight, sourceBitrateKbps int64, sourceAudioCodec string) (EncodeParams, error) {
	codecArg, ok := codecArgs[codec]
	if !ok {
		return EncodeParams{}, fmt.Errorf("unsupported codec: %s", codec)
	}

	height := rendition.Height
	bitrateKbps := rendition.BitrateKbps
	if sourceHeight > 0 && sourceHeight < height {
		height = sourceHeight
		if sourceBitrateKbps > 0 {
			bitrateKbps = int64(float64(sourceBitrateKbps) * 0.8)
		}
	}

	// aac sources carry their audio through untouched
	audio := "aac"
	if sourceAudioCodec == "aac" {
		audio = "copy"
	}

	return EncodeParams{
		ScaleFilter: "scale=-2:" + strconv.FormatInt(height, 10),
		VideoCodec:  codecArg,
		Bitrate:     strconv.FormatInt(bitrateKbps, 10) + "k",
		AudioCodec:  audio,
	}, nil
}
