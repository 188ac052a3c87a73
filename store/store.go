package store

import (
	"context"
	"time"
)

// Video is a catalog entry backed by a source file under the media
// directory. Probe fields (codecs, resolution, duration, bitrate) are empty
// until the post-upload pipeline has run.
type Video struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Category     string    `json:"category,omitempty"`
	MediaType    string    `json:"media_type,omitempty"`
	ReleaseYear  int       `json:"release_year,omitempty"`
	PosterURL    string    `json:"poster_url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	SourcePath   string    `json:"source_path"`
	VideoCodec   string    `json:"video_codec,omitempty"`
	AudioCodec   string    `json:"audio_codec,omitempty"`
	Resolution   string    `json:"resolution,omitempty"`
	Duration     float64   `json:"duration,omitempty"`
	BitrateKbps  int64     `json:"bitrate_kbps,omitempty"`
	Transcoded   bool      `json:"transcoded"`
	CreatedAt    time.Time `json:"created_at"`
}

type PreviewStatus string

const (
	PreviewPending    PreviewStatus = "pending"
	PreviewProcessing PreviewStatus = "processing"
	PreviewCompleted  PreviewStatus = "completed"
	PreviewFailed     PreviewStatus = "failed"
)

// MaxPreviewErrorLength caps the persisted encoder error detail.
const MaxPreviewErrorLength = 2000

// Preview tracks the short excerpt rendition of a video, at most one row
// per video.
type Preview struct {
	ID           int64         `json:"id"`
	VideoID      int64         `json:"video_id"`
	StartOffset  int           `json:"start_offset"`
	Duration     int           `json:"preview_duration"`
	Status       PreviewStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Transcoded   bool          `json:"transcoded"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Store persists videos and their preview state. Lookups for missing rows
// return an error wrapping errors.ErrNotFound.
type Store interface {
	CreateVideo(ctx context.Context, video *Video) error
	GetVideo(ctx context.Context, id int64) (Video, error)
	UpdateVideo(ctx context.Context, video *Video) error
	DeleteVideo(ctx context.Context, id int64) error

	GetPreview(ctx context.Context, videoID int64) (Preview, error)
	// CreateOrResetPreview inserts the preview row for videoID or, when one
	// already exists, rewinds it to pending with the given excerpt window.
	CreateOrResetPreview(ctx context.Context, videoID int64, startOffset, duration int) (Preview, error)
	// SetPreviewStatus records an encode transition. Completed rows are
	// marked transcoded; failed rows keep a truncated error message.
	SetPreviewStatus(ctx context.Context, id int64, status PreviewStatus, errorMessage string) error
}

func truncateError(msg string) string {
	if len(msg) > MaxPreviewErrorLength {
		return msg[:MaxPreviewErrorLength]
	}
	return msg
}
