// Package scheduler turns player requests into encode work. It decides when
// a playlist request should spin up a continuous encoder, when a segment
// request can be served from disk, when it must wait on a running worker,
// and when an existing worker has to die because the player seeked away.
package scheduler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/streamplex/transcode-api/cache"
	apiErrs "github.com/streamplex/transcode-api/errors"
	"github.com/streamplex/transcode-api/heartbeat"
	"github.com/streamplex/transcode-api/locks"
	"github.com/streamplex/transcode-api/log"
	"github.com/streamplex/transcode-api/metrics"
	"github.com/streamplex/transcode-api/store"
	"github.com/streamplex/transcode-api/supervisor"
	"github.com/streamplex/transcode-api/transcode"
	"github.com/streamplex/transcode-api/video"
)

const (
	DefaultSegmentTimeout    = 60 * time.Second
	DefaultCompletionTimeout = 60 * time.Second
	DefaultSegmentSecs       = 5.0
	segmentPollInterval      = 2 * time.Second
	completionPollInterval   = 500 * time.Millisecond
	completionStableFor      = 2 * time.Second
	maxSegmentScan           = 1000
)

// ContinuousJob is the registry entry for an enqueued continuous encoder.
type ContinuousJob struct {
	ID           string
	VideoID      int64
	Resolution   string
	StartSegment string
	cancel       context.CancelFunc
	done         chan struct{}
}

type Scheduler struct {
	Store       store.Store
	Prober      video.Prober
	Synthesizer *video.Synthesizer
	Heartbeats  *heartbeat.Store
	Encoder     *transcode.Encoder
	Runner      *supervisor.Runner
	Layout      transcode.Layout

	// SegmentTimeout bounds how long a segment request waits for a file
	// some other encoder is producing.
	SegmentTimeout time.Duration
	// CompletionTimeout bounds how long a playlist request waits for the
	// continuous worker's first segment.
	CompletionTimeout time.Duration
	// SegmentSecs is the fallback segment length when the playlist does not
	// record one.
	SegmentSecs float64

	jobs *cache.Cache[*ContinuousJob]
}

func NewScheduler(s store.Store, prober video.Prober, synthesizer *video.Synthesizer, heartbeats *heartbeat.Store, encoder *transcode.Encoder, runner *supervisor.Runner, layout transcode.Layout) *Scheduler {
	return &Scheduler{
		Store:             s,
		Prober:            prober,
		Synthesizer:       synthesizer,
		Heartbeats:        heartbeats,
		Encoder:           encoder,
		Runner:            runner,
		Layout:            layout,
		SegmentTimeout:    DefaultSegmentTimeout,
		CompletionTimeout: DefaultCompletionTimeout,
		SegmentSecs:       DefaultSegmentSecs,
		jobs:              cache.New[*ContinuousJob](),
	}
}

// WorkerID identifies one user's encode activity on one rendition.
func WorkerID(userID, resolution string) string {
	return fmt.Sprintf("%s_%s", userID, resolution)
}

// ContinuousJobID identifies the continuous encoder job for a
// (user, video, resolution) triple. Requesting the same triple twice yields
// the same id, which is what makes enqueueing idempotent.
func ContinuousJobID(userID string, videoID int64, resolution string) string {
	return fmt.Sprintf("%s_video%d_%s", WorkerID(userID, resolution), videoID, resolution)
}

// ownsWorker reports whether a recorded continuous worker belongs to the
// calling user's activity on this rendition.
func ownsWorker(recordedWorkerID, userID string, videoID int64, resolution string) bool {
	workerID := WorkerID(userID, resolution)
	return recordedWorkerID == ContinuousJobID(userID, videoID, resolution) ||
		recordedWorkerID == workerID ||
		strings.HasPrefix(recordedWorkerID, workerID+"_")
}

// ServePlaylist returns the rendition playlist for a video, synthesizing it
// on first request, and starts the continuous encoder that will produce the
// rendition's segments. It blocks until the worker's first segment is on
// disk or the completion timeout passes, so playback can start immediately.
func (s *Scheduler) ServePlaylist(ctx context.Context, requestID string, videoID int64, resolution, userID string, force bool) (string, error) {
	if _, err := video.RenditionByName(resolution); err != nil {
		return "", err
	}
	vid, err := s.Store.GetVideo(ctx, videoID)
	if err != nil {
		return "", err
	}

	s.Heartbeats.Set(videoID, resolution, 0)
	metrics.Metrics.PlaylistRequestCount.Inc()

	sourcePath := s.Layout.SourcePath(vid.SourcePath)
	playlistPath := s.Layout.PlaylistPath(videoID)
	playlist, err := s.Synthesizer.Get(requestID, videoID, sourcePath, playlistPath, force)
	if err != nil {
		return "", err
	}

	s.StartContinuous(requestID, vid, resolution, transcode.SegmentFileName(0), userID)
	return playlist, nil
}

// StartContinuous enqueues the continuous encoder for a rendition and waits
// for its start segment to finish being written. Enqueueing an id that is
// already running is a noop aside from the wait.
func (s *Scheduler) StartContinuous(requestID string, vid store.Video, resolution, startSegment, userID string) {
	jobID := ContinuousJobID(userID, vid.ID, resolution)
	outputDir := s.Layout.OutputDir(vid.ID, resolution)

	jobCtx, cancel := context.WithCancel(context.Background())
	job := &ContinuousJob{
		ID:           jobID,
		VideoID:      vid.ID,
		Resolution:   resolution,
		StartSegment: startSegment,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	if _, loaded := s.jobs.LoadOrStore(jobID, job); loaded {
		cancel()
		log.Log(requestID, "continuous worker already enqueued", "job_id", jobID)
	} else {
		params, err := s.paramsFor(requestID, vid, resolution, SegmentOptions{}, s.segmentDuration(s.Layout.PlaylistPath(vid.ID), startSegment))
		if err != nil {
			s.jobs.Remove(jobID)
			cancel()
			close(job.done)
			log.LogError(requestID, "cannot start continuous worker", err, "job_id", jobID)
			return
		}
		go s.runContinuous(jobCtx, job, supervisor.Job{
			RequestID:    requestID,
			VideoID:      vid.ID,
			Resolution:   resolution,
			WorkerID:     jobID,
			SourcePath:   s.Layout.SourcePath(vid.SourcePath),
			OutputDir:    outputDir,
			StartSegment: startSegment,
			Params:       params,
		})
	}

	// the player will ask for this segment as soon as it has the playlist
	transcode.WaitForFileStable(filepath.Join(outputDir, startSegment), s.completionTimeout(), completionStableFor, completionPollInterval)
}

func (s *Scheduler) runContinuous(ctx context.Context, job *ContinuousJob, supervisorJob supervisor.Job) {
	defer close(job.done)
	defer s.jobs.Remove(job.ID)

	err := s.Runner.Run(ctx, supervisorJob)
	switch {
	case err == nil:
		log.Log(supervisorJob.RequestID, "continuous worker finished", "job_id", job.ID)
	case isExpectedStop(err):
		log.Log(supervisorJob.RequestID, "continuous worker stopped", "job_id", job.ID, "reason", err)
	default:
		log.LogError(supervisorJob.RequestID, "continuous worker failed", err, "job_id", job.ID)
	}
}

func isExpectedStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, apiErrs.ErrInactiveTimeout)
}

// KillContinuous stops the continuous worker for a rendition, whether it was
// enqueued by this process or left behind by a previous run. Returns true
// when a worker was found.
func (s *Scheduler) KillContinuous(requestID string, videoID int64, resolution, reason string) bool {
	killed := false

	if job := s.findJob(videoID, resolution); job != nil {
		job.cancel()
		select {
		case <-job.done:
		case <-time.After(10 * time.Second):
			log.Log(requestID, "timed out waiting for cancelled worker to exit", "job_id", job.ID)
		}
		killed = true
	}

	// a descriptor can outlive its enqueuing process, kill by pid as well
	descriptorPath := s.Layout.ContinuousLockPath(videoID, resolution)
	if descriptor, err := locks.ReadDescriptor(descriptorPath); err == nil {
		if proc, err := process.NewProcess(int32(descriptor.Pid)); err == nil {
			_ = proc.Resume()
			if err := proc.Kill(); err != nil {
				log.LogError(requestID, "failed to kill continuous worker", err, "pid", descriptor.Pid)
			}
		}
		locks.RemoveDescriptor(descriptorPath)
		killed = true
	}

	if killed {
		metrics.Metrics.ContinuousKillCount.WithLabelValues(reason).Inc()
		log.Log(requestID, "killed continuous worker", "video_id", videoID, "resolution", resolution, "reason", reason)
	}
	return killed
}

// KillAllContinuous stops the workers of every rendition of a video.
func (s *Scheduler) KillAllContinuous(requestID string, videoID int64, reason string) {
	for _, rendition := range video.DefaultRenditions {
		s.KillContinuous(requestID, videoID, rendition.Name, reason)
	}
}

// Shutdown stops every enqueued continuous worker. Without this the encoder
// process groups would outlive the service.
func (s *Scheduler) Shutdown(requestID string) {
	for _, key := range s.jobs.GetKeys() {
		if job := s.jobs.Get(key); job != nil {
			s.KillContinuous(requestID, job.VideoID, job.Resolution, "shutdown")
		}
	}
}

func (s *Scheduler) findJob(videoID int64, resolution string) *ContinuousJob {
	for _, key := range s.jobs.GetKeys() {
		job := s.jobs.Get(key)
		if job != nil && job.VideoID == videoID && job.Resolution == resolution {
			return job
		}
	}
	return nil
}

// continuousActive reports whether a live continuous worker holds the
// rendition's output directory.
func (s *Scheduler) continuousActive(videoID int64, resolution string) bool {
	descriptor, err := locks.ReadDescriptor(s.Layout.ContinuousLockPath(videoID, resolution))
	if err != nil {
		return false
	}
	alive, err := process.PidExists(int32(descriptor.Pid))
	return err == nil && alive
}

// segmentDuration pulls the EXTINF recorded for segmentName out of the
// playlist. Segment lengths follow keyframe spacing, so the encoder's seek
// offset must come from here rather than a constant.
func (s *Scheduler) segmentDuration(playlistPath, segmentName string) float64 {
	f, err := os.Open(playlistPath)
	if err != nil {
		return s.segmentSecs()
	}
	defer f.Close()

	parsed, listType, err := m3u8.DecodeFrom(bufio.NewReader(f), true)
	if err != nil || listType != m3u8.MEDIA {
		return s.segmentSecs()
	}
	mediaPlaylist := parsed.(*m3u8.MediaPlaylist)
	for _, segment := range mediaPlaylist.Segments {
		if segment == nil {
			break
		}
		if segment.URI == segmentName {
			return segment.Duration
		}
	}
	return s.segmentSecs()
}

func (s *Scheduler) segmentTimeout() time.Duration {
	if s.SegmentTimeout > 0 {
		return s.SegmentTimeout
	}
	return DefaultSegmentTimeout
}

func (s *Scheduler) completionTimeout() time.Duration {
	if s.CompletionTimeout > 0 {
		return s.CompletionTimeout
	}
	return DefaultCompletionTimeout
}

func (s *Scheduler) segmentSecs() float64 {
	if s.SegmentSecs > 0 {
		return s.SegmentSecs
	}
	return DefaultSegmentSecs
}
