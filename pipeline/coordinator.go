// Package pipeline drives the post-upload processing of a registered video:
// catalog metadata enrichment, probing, thumbnail extraction, preview
// encoding and playlist pre-synthesis. Only the probe is load-bearing; every
// other step records its failure and lets the rest continue.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/streamplex/transcode-api/cache"
	"github.com/streamplex/transcode-api/clients"
	"github.com/streamplex/transcode-api/log"
	"github.com/streamplex/transcode-api/metrics"
	"github.com/streamplex/transcode-api/store"
	"github.com/streamplex/transcode-api/thumbnails"
	"github.com/streamplex/transcode-api/transcode"
	"github.com/streamplex/transcode-api/video"
)

// StepResult records the outcome of one pipeline step.
type StepResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// JobInfo tracks one video's run through the pipeline.
type JobInfo struct {
	mu        sync.Mutex
	RequestID string
	VideoID   int64

	stepsMu sync.Mutex
	steps   []StepResult

	result chan bool
}

func (j *JobInfo) recordStep(name string, err error, startedAt time.Time) {
	success := err == nil
	metrics.Metrics.PipelineStepDurationSec.
		WithLabelValues(name, strconv.FormatBool(success)).
		Observe(time.Since(startedAt).Seconds())

	step := StepResult{Name: name, Success: success}
	if err != nil {
		step.Error = err.Error()
		log.LogError(j.RequestID, "pipeline step failed", err, "step", name, "video_id", j.VideoID)
	} else {
		log.Log(j.RequestID, "pipeline step done", "step", name, "video_id", j.VideoID, "duration", time.Since(startedAt))
	}

	j.stepsMu.Lock()
	defer j.stepsMu.Unlock()
	j.steps = append(j.steps, step)
}

// StepResults returns a copy of the steps recorded so far.
func (j *JobInfo) StepResults() []StepResult {
	j.stepsMu.Lock()
	defer j.stepsMu.Unlock()
	return append([]StepResult{}, j.steps...)
}

type Coordinator struct {
	Store       store.Store
	Prober      video.Prober
	Metadata    clients.MetadataFetcher // nil when no metadata API is configured
	Synthesizer *video.Synthesizer
	Encoder     *transcode.Encoder
	Layout      transcode.Layout
	SiteURL     *url.URL

	// GenerateThumbnail is swapped out by tests.
	GenerateThumbnail func(requestID, sourcePath, outputPath string, offsetSecs float64) error

	Jobs *cache.Cache[*JobInfo]
}

func NewCoordinator(s store.Store, prober video.Prober, metadata clients.MetadataFetcher, synthesizer *video.Synthesizer, encoder *transcode.Encoder, layout transcode.Layout, siteURL *url.URL) *Coordinator {
	return &Coordinator{
		Store:             s,
		Prober:            prober,
		Metadata:          metadata,
		Synthesizer:       synthesizer,
		Encoder:           encoder,
		Layout:            layout,
		SiteURL:           siteURL,
		GenerateThumbnail: thumbnails.Generate,
		Jobs:              cache.New[*JobInfo](),
	}
}

func jobKey(videoID int64) string {
	return fmt.Sprintf("video_%d", videoID)
}

// Job returns the in-flight pipeline run for a video, if any.
func (c *Coordinator) Job(videoID int64) *JobInfo {
	return c.Jobs.Get(jobKey(videoID))
}

// StartPostUpload kicks off the processing chain for a newly registered
// video. The returned channel reports overall success. Starting a video
// that is already being processed returns the running job's channel.
func (c *Coordinator) StartPostUpload(requestID string, videoID int64) <-chan bool {
	job := &JobInfo{RequestID: requestID, VideoID: videoID, result: make(chan bool, 1)}
	if actual, loaded := c.Jobs.LoadOrStore(jobKey(videoID), job); loaded {
		log.Log(requestID, "post-upload processing already running", "video_id", videoID)
		return actual.result
	}

	// nolint:errcheck
	go recovered(func() (t bool, e error) {
		job.mu.Lock()
		defer job.mu.Unlock()

		err := c.processVideo(job)
		c.finishJob(job, err)
		// dummy
		return
	})
	return job.result
}

func (c *Coordinator) processVideo(job *JobInfo) error {
	ctx := context.Background()
	vid, err := c.Store.GetVideo(ctx, job.VideoID)
	if err != nil {
		return err
	}
	sourcePath := c.Layout.SourcePath(vid.SourcePath)

	if c.Metadata != nil && vid.ExternalID != "" {
		start := time.Now()
		metadata, err := c.Metadata.Fetch(job.RequestID, vid.ExternalID)
		if err == nil {
			mergeMetadata(&vid, metadata)
			err = c.Store.UpdateVideo(ctx, &vid)
		}
		job.recordStep("metadata", err, start)
	}

	start := time.Now()
	probed, err := c.Prober.ProbeFile(job.RequestID, sourcePath)
	if err == nil {
		applyProbe(&vid, probed)
		err = c.Store.UpdateVideo(ctx, &vid)
	}
	job.recordStep("probe", err, start)
	if err != nil {
		// nothing downstream can work without the probe
		return fmt.Errorf("cannot probe %s: %w", vid.SourcePath, err)
	}

	if vid.ThumbnailURL == "" {
		start = time.Now()
		err = c.GenerateThumbnail(job.RequestID, sourcePath, c.Layout.ThumbnailPath(vid.ID), thumbnails.OffsetFor(vid.Duration))
		if err == nil {
			vid.ThumbnailURL = c.thumbnailURL(vid.ID)
			if vid.PosterURL == "" {
				vid.PosterURL = vid.ThumbnailURL
			}
			err = c.Store.UpdateVideo(ctx, &vid)
		}
		job.recordStep("thumbnail", err, start)
	}

	start = time.Now()
	err = c.encodePreview(job.RequestID, vid)
	job.recordStep("preview", err, start)

	start = time.Now()
	_, err = c.Synthesizer.Get(job.RequestID, vid.ID, sourcePath, c.Layout.PlaylistPath(vid.ID), false)
	if err == nil {
		vid.Transcoded = true
		err = c.Store.UpdateVideo(ctx, &vid)
	}
	job.recordStep("playlist", err, start)
	return err
}

func (c *Coordinator) finishJob(job *JobInfo, err error) {
	defer close(job.result)
	success := err == nil
	if err != nil {
		log.LogError(job.RequestID, "post-upload processing failed", err, "video_id", job.VideoID)
	} else {
		log.Log(job.RequestID, "post-upload processing complete", "video_id", job.VideoID)
	}

	// Automatically delete jobs after an error or result
	c.Jobs.Remove(jobKey(job.VideoID))
	job.result <- success
}

// PreviewWindow picks the excerpt to cut for a source of the given
// duration. Long sources skip the first tenth to get past titles; the
// excerpt never exceeds two minutes or the source itself.
func PreviewWindow(durationSecs float64) (startOffset, previewDuration int) {
	if durationSecs > 180 {
		startOffset = int(0.1 * durationSecs)
	}
	previewDuration = 120
	if durationSecs > 0 && durationSecs < 120 {
		previewDuration = int(durationSecs)
	}
	return startOffset, previewDuration
}

func (c *Coordinator) encodePreview(requestID string, vid store.Video) error {
	startOffset, previewDuration := PreviewWindow(vid.Duration)
	preview, err := c.Store.CreateOrResetPreview(context.Background(), vid.ID, startOffset, previewDuration)
	if err != nil {
		return err
	}
	return c.RunPreviewEncode(requestID, vid, preview)
}

// RunPreviewEncode runs the preview encode synchronously, moving the
// preview row through processing to completed or failed.
func (c *Coordinator) RunPreviewEncode(requestID string, vid store.Video, preview store.Preview) error {
	ctx := context.Background()
	if err := c.Store.SetPreviewStatus(ctx, preview.ID, store.PreviewProcessing, ""); err != nil {
		return err
	}

	err := c.Encoder.EncodePreview(requestID, transcode.PreviewJob{
		PreviewID:   preview.ID,
		SourcePath:  c.Layout.SourcePath(vid.SourcePath),
		OutputDir:   c.Layout.PreviewDir(vid.ID),
		StartOffset: preview.StartOffset,
		Duration:    preview.Duration,
	})
	if err != nil {
		if statusErr := c.Store.SetPreviewStatus(ctx, preview.ID, store.PreviewFailed, err.Error()); statusErr != nil {
			log.LogError(requestID, "failed to record preview failure", statusErr, "preview_id", preview.ID)
		}
		return err
	}
	return c.Store.SetPreviewStatus(ctx, preview.ID, store.PreviewCompleted, "")
}

// ReencodePreview rewinds the preview row for a video and redoes the encode
// in the background.
func (c *Coordinator) ReencodePreview(requestID string, videoID int64) (store.Preview, error) {
	ctx := context.Background()
	vid, err := c.Store.GetVideo(ctx, videoID)
	if err != nil {
		return store.Preview{}, err
	}
	startOffset, previewDuration := PreviewWindow(vid.Duration)
	preview, err := c.Store.CreateOrResetPreview(ctx, videoID, startOffset, previewDuration)
	if err != nil {
		return store.Preview{}, err
	}

	// nolint:errcheck
	go recovered(func() (t bool, e error) {
		if err := c.RunPreviewEncode(requestID, vid, preview); err != nil {
			log.LogError(requestID, "preview re-encode failed", err, "video_id", videoID)
		}
		// dummy
		return
	})
	return preview, nil
}

func (c *Coordinator) thumbnailURL(videoID int64) string {
	thumbnailPath := fmt.Sprintf("/thumbnail/video_%d/thumbnail.jpg", videoID)
	if c.SiteURL == nil {
		return thumbnailPath
	}
	return c.SiteURL.JoinPath(thumbnailPath).String()
}

func mergeMetadata(vid *store.Video, metadata clients.CatalogMetadata) {
	if metadata.Title != "" {
		vid.Title = metadata.Title
	}
	if metadata.Description != "" {
		vid.Description = metadata.Description
	}
	if metadata.Category != "" {
		vid.Category = metadata.Category
	}
	if metadata.MediaType != "" {
		vid.MediaType = metadata.MediaType
	}
	if metadata.ReleaseYear != 0 {
		vid.ReleaseYear = metadata.ReleaseYear
	}
	if metadata.PosterURL != "" {
		vid.PosterURL = metadata.PosterURL
		if vid.ThumbnailURL == "" {
			vid.ThumbnailURL = metadata.PosterURL
		}
	}
}

func applyProbe(vid *store.Video, input video.InputVideo) {
	vid.Duration = input.Duration
	if track, err := input.GetTrack(video.TrackTypeVideo); err == nil {
		vid.VideoCodec = track.Codec
		vid.Resolution = fmt.Sprintf("%dx%d", track.Width, track.Height)
		vid.BitrateKbps = track.Bitrate / 1000
	}
	if track, err := input.GetTrack(video.TrackTypeAudio); err == nil {
		vid.AudioCodec = track.Codec
	}
}

func recovered[T any](f func() (T, error)) (t T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoRequestID("panic in pipeline background goroutine, recovering", "err", rec)
			err = fmt.Errorf("panic in pipeline: %v", rec)
		}
	}()
	return f()
}
