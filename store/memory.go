package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	apiErrs "github.com/streamplex/transcode-api/errors"
)

// MemoryStore is the fallback catalog used when no database URL is
// configured. State does not survive a restart; the on-disk artifacts do.
type MemoryStore struct {
	mutex    sync.Mutex
	videos   map[int64]Video
	previews map[int64]Preview
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		videos:   map[int64]Video{},
		previews: map[int64]Preview{},
		nextID:   1,
	}
}

func (s *MemoryStore) CreateVideo(_ context.Context, video *Video) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	video.ID = s.nextID
	video.CreatedAt = time.Now()
	s.nextID++
	s.videos[video.ID] = *video
	return nil
}

func (s *MemoryStore) GetVideo(_ context.Context, id int64) (Video, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	video, ok := s.videos[id]
	if !ok {
		return Video{}, fmt.Errorf("video %d: %w", id, apiErrs.ErrNotFound)
	}
	return video, nil
}

func (s *MemoryStore) UpdateVideo(_ context.Context, video *Video) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.videos[video.ID]; !ok {
		return fmt.Errorf("video %d: %w", video.ID, apiErrs.ErrNotFound)
	}
	s.videos[video.ID] = *video
	return nil
}

func (s *MemoryStore) DeleteVideo(_ context.Context, id int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.videos, id)
	for previewID, preview := range s.previews {
		if preview.VideoID == id {
			delete(s.previews, previewID)
		}
	}
	return nil
}

func (s *MemoryStore) GetPreview(_ context.Context, videoID int64) (Preview, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, preview := range s.previews {
		if preview.VideoID == videoID {
			return preview, nil
		}
	}
	return Preview{}, fmt.Errorf("preview for video %d: %w", videoID, apiErrs.ErrNotFound)
}

func (s *MemoryStore) CreateOrResetPreview(_ context.Context, videoID int64, startOffset, duration int) (Preview, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for id, preview := range s.previews {
		if preview.VideoID == videoID {
			preview.StartOffset = startOffset
			preview.Duration = duration
			preview.Status = PreviewPending
			preview.ErrorMessage = ""
			preview.Transcoded = false
			preview.UpdatedAt = time.Now()
			s.previews[id] = preview
			return preview, nil
		}
	}
	preview := Preview{
		ID:          s.nextID,
		VideoID:     videoID,
		StartOffset: startOffset,
		Duration:    duration,
		Status:      PreviewPending,
		UpdatedAt:   time.Now(),
	}
	s.nextID++
	s.previews[preview.ID] = preview
	return preview, nil
}

func (s *MemoryStore) SetPreviewStatus(_ context.Context, id int64, status PreviewStatus, errorMessage string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	preview, ok := s.previews[id]
	if !ok {
		return fmt.Errorf("preview %d: %w", id, apiErrs.ErrNotFound)
	}
	preview.Status = status
	preview.ErrorMessage = truncateError(errorMessage)
	preview.Transcoded = status == PreviewCompleted
	preview.UpdatedAt = time.Now()
	s.previews[id] = preview
	return nil
}
