package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	apiErrs "github.com/streamplex/transcode-api/errors"
	"github.com/stretchr/testify/require"
)

func TestPostgresCreateVideoAssignsID(t *testing.T) {
	require := require.New(t)
	db, mock, err := sqlmock.New()
	require.NoError(err)
	defer db.Close()

	mock.ExpectQuery(`insert into "videos"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))

	s := NewPostgresStore(db)
	video := Video{Title: "big buck bunny", SourcePath: "bbb.mp4"}
	require.NoError(s.CreateVideo(context.Background(), &video))
	require.Equal(int64(7), video.ID)
	require.False(video.CreatedAt.IsZero())
	require.NoError(mock.ExpectationsWereMet())
}

func TestPostgresGetVideo(t *testing.T) {
	require := require.New(t)
	db, mock, err := sqlmock.New()
	require.NoError(err)
	defer db.Close()

	columns := []string{"id", "title", "description", "category", "media_type", "release_year", "poster_url", "thumbnail_url", "external_id", "source_path", "video_codec", "audio_codec", "resolution", "duration", "bitrate_kbps", "transcoded", "created_at"}
	mock.ExpectQuery(`select (.+) from "videos" where "id"`).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(7), "big buck bunny", "", "", "movie", 2008, "", "", "", "bbb.mp4", "h264", "aac", "1920x1080", 596.5, int64(4500), false, time.Now()))

	s := NewPostgresStore(db)
	video, err := s.GetVideo(context.Background(), 7)
	require.NoError(err)
	require.Equal("big buck bunny", video.Title)
	require.Equal("1920x1080", video.Resolution)
	require.Equal(int64(4500), video.BitrateKbps)
	require.NoError(mock.ExpectationsWereMet())
}

func TestPostgresGetVideoNotFound(t *testing.T) {
	require := require.New(t)
	db, mock, err := sqlmock.New()
	require.NoError(err)
	defer db.Close()

	mock.ExpectQuery(`select (.+) from "videos" where "id"`).WillReturnError(sql.ErrNoRows)

	s := NewPostgresStore(db)
	_, err = s.GetVideo(context.Background(), 42)
	require.ErrorIs(err, apiErrs.ErrNotFound)
}

func TestPostgresSetPreviewStatusTruncatesError(t *testing.T) {
	require := require.New(t)
	db, mock, err := sqlmock.New()
	require.NoError(err)
	defer db.Close()

	longMsg := strings.Repeat("x", 3000)
	mock.ExpectExec(`update "previews" set`).
		WithArgs(PreviewFailed, strings.Repeat("x", MaxPreviewErrorLength), false, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresStore(db)
	require.NoError(s.SetPreviewStatus(context.Background(), 5, PreviewFailed, longMsg))
	require.NoError(mock.ExpectationsWereMet())
}

func TestPostgresCreateOrResetPreview(t *testing.T) {
	require := require.New(t)
	db, mock, err := sqlmock.New()
	require.NoError(err)
	defer db.Close()

	columns := []string{"id", "video_id", "start_offset", "preview_duration", "status", "error_message", "transcoded", "updated_at"}
	mock.ExpectQuery(`insert into "previews"`).
		WithArgs(int64(7), 59, 120).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(3), int64(7), 59, 120, "pending", "", false, time.Now()))

	s := NewPostgresStore(db)
	preview, err := s.CreateOrResetPreview(context.Background(), 7, 59, 120)
	require.NoError(err)
	require.Equal(int64(3), preview.ID)
	require.Equal(PreviewPending, preview.Status)
	require.NoError(mock.ExpectationsWereMet())
}

func TestMemoryStoreVideoLifecycle(t *testing.T) {
	require := require.New(t)
	s := NewMemoryStore()
	ctx := context.Background()

	video := Video{Title: "test", SourcePath: "test.mp4"}
	require.NoError(s.CreateVideo(ctx, &video))
	require.Equal(int64(1), video.ID)

	video.VideoCodec = "h264"
	video.Duration = 120.5
	require.NoError(s.UpdateVideo(ctx, &video))

	got, err := s.GetVideo(ctx, video.ID)
	require.NoError(err)
	require.Equal("h264", got.VideoCodec)
	require.Equal(120.5, got.Duration)

	require.NoError(s.DeleteVideo(ctx, video.ID))
	_, err = s.GetVideo(ctx, video.ID)
	require.ErrorIs(err, apiErrs.ErrNotFound)
}

func TestMemoryStorePreviewReset(t *testing.T) {
	require := require.New(t)
	s := NewMemoryStore()
	ctx := context.Background()

	video := Video{Title: "test", SourcePath: "test.mp4"}
	require.NoError(s.CreateVideo(ctx, &video))

	preview, err := s.CreateOrResetPreview(ctx, video.ID, 0, 120)
	require.NoError(err)
	require.Equal(PreviewPending, preview.Status)

	require.NoError(s.SetPreviewStatus(ctx, preview.ID, PreviewFailed, "boom"))
	got, err := s.GetPreview(ctx, video.ID)
	require.NoError(err)
	require.Equal(PreviewFailed, got.Status)
	require.Equal("boom", got.ErrorMessage)
	require.False(got.Transcoded)

	// enqueueing again rewinds the same row
	reset, err := s.CreateOrResetPreview(ctx, video.ID, 30, 60)
	require.NoError(err)
	require.Equal(preview.ID, reset.ID)
	require.Equal(PreviewPending, reset.Status)
	require.Empty(reset.ErrorMessage)
	require.Equal(30, reset.StartOffset)

	require.NoError(s.SetPreviewStatus(ctx, preview.ID, PreviewCompleted, ""))
	got, err = s.GetPreview(ctx, video.ID)
	require.NoError(err)
	require.True(got.Transcoded)

	// deleting the video removes its preview
	require.NoError(s.DeleteVideo(ctx, video.ID))
	_, err = s.GetPreview(ctx, video.ID)
	require.ErrorIs(err, apiErrs.ErrNotFound)
}
