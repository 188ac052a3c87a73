package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apiErrs "github.com/streamplex/transcode-api/errors"
)

// PostgresStore keeps the catalog in Postgres. Schema setup is handled by
// EnsureSchema so a fresh database works without external migrations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var schemaStmts = []string{
	`create table if not exists "videos" (
		"id" bigserial primary key,
		"title" text not null default '',
		"description" text not null default '',
		"category" text not null default '',
		"media_type" text not null default '',
		"release_year" int not null default 0,
		"poster_url" text not null default '',
		"thumbnail_url" text not null default '',
		"external_id" text not null default '',
		"source_path" text not null,
		"video_codec" text not null default '',
		"audio_codec" text not null default '',
		"resolution" text not null default '',
		"duration" double precision not null default 0,
		"bitrate_kbps" bigint not null default 0,
		"transcoded" boolean not null default false,
		"created_at" timestamptz not null default now()
	)`,
	`create table if not exists "previews" (
		"id" bigserial primary key,
		"video_id" bigint not null unique references "videos"("id") on delete cascade,
		"start_offset" int not null default 0,
		"preview_duration" int not null default 0,
		"status" text not null default 'pending',
		"error_message" text not null default '',
		"transcoded" boolean not null default false,
		"updated_at" timestamptz not null default now()
	)`,
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error creating schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateVideo(ctx context.Context, video *Video) error {
	insertStmt := `insert into "videos"("title", "description", "category", "media_type", "release_year", "poster_url", "thumbnail_url", "external_id", "source_path", "video_codec", "audio_codec", "resolution", "duration", "bitrate_kbps", "transcoded") values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) returning "id", "created_at"`
	err := s.db.QueryRowContext(ctx, insertStmt,
		video.Title, video.Description, video.Category, video.MediaType, video.ReleaseYear,
		video.PosterURL, video.ThumbnailURL, video.ExternalID, video.SourcePath,
		video.VideoCodec, video.AudioCodec, video.Resolution, video.Duration,
		video.BitrateKbps, video.Transcoded,
	).Scan(&video.ID, &video.CreatedAt)
	if err != nil {
		return fmt.Errorf("error inserting video: %w", err)
	}
	return nil
}

const videoColumns = `"id", "title", "description", "category", "media_type", "release_year", "poster_url", "thumbnail_url", "external_id", "source_path", "video_codec", "audio_codec", "resolution", "duration", "bitrate_kbps", "transcoded", "created_at"`

func scanVideo(row *sql.Row) (Video, error) {
	var v Video
	err := row.Scan(&v.ID, &v.Title, &v.Description, &v.Category, &v.MediaType, &v.ReleaseYear,
		&v.PosterURL, &v.ThumbnailURL, &v.ExternalID, &v.SourcePath,
		&v.VideoCodec, &v.AudioCodec, &v.Resolution, &v.Duration,
		&v.BitrateKbps, &v.Transcoded, &v.CreatedAt)
	return v, err
}

func (s *PostgresStore) GetVideo(ctx context.Context, id int64) (Video, error) {
	row := s.db.QueryRowContext(ctx, `select `+videoColumns+` from "videos" where "id" = $1`, id)
	video, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Video{}, fmt.Errorf("video %d: %w", id, apiErrs.ErrNotFound)
	}
	if err != nil {
		return Video{}, fmt.Errorf("error querying video %d: %w", id, err)
	}
	return video, nil
}

func (s *PostgresStore) UpdateVideo(ctx context.Context, video *Video) error {
	updateStmt := `update "videos" set "title" = $1, "description" = $2, "category" = $3, "media_type" = $4, "release_year" = $5, "poster_url" = $6, "thumbnail_url" = $7, "external_id" = $8, "source_path" = $9, "video_codec" = $10, "audio_codec" = $11, "resolution" = $12, "duration" = $13, "bitrate_kbps" = $14, "transcoded" = $15 where "id" = $16`
	res, err := s.db.ExecContext(ctx, updateStmt,
		video.Title, video.Description, video.Category, video.MediaType, video.ReleaseYear,
		video.PosterURL, video.ThumbnailURL, video.ExternalID, video.SourcePath,
		video.VideoCodec, video.AudioCodec, video.Resolution, video.Duration,
		video.BitrateKbps, video.Transcoded, video.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating video %d: %w", video.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("video %d: %w", video.ID, apiErrs.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteVideo(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `delete from "videos" where "id" = $1`, id); err != nil {
		return fmt.Errorf("error deleting video %d: %w", id, err)
	}
	return nil
}

const previewColumns = `"id", "video_id", "start_offset", "preview_duration", "status", "error_message", "transcoded", "updated_at"`

func scanPreview(row *sql.Row) (Preview, error) {
	var p Preview
	err := row.Scan(&p.ID, &p.VideoID, &p.StartOffset, &p.Duration, &p.Status,
		&p.ErrorMessage, &p.Transcoded, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) GetPreview(ctx context.Context, videoID int64) (Preview, error) {
	row := s.db.QueryRowContext(ctx, `select `+previewColumns+` from "previews" where "video_id" = $1`, videoID)
	preview, err := scanPreview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Preview{}, fmt.Errorf("preview for video %d: %w", videoID, apiErrs.ErrNotFound)
	}
	if err != nil {
		return Preview{}, fmt.Errorf("error querying preview for video %d: %w", videoID, err)
	}
	return preview, nil
}

func (s *PostgresStore) CreateOrResetPreview(ctx context.Context, videoID int64, startOffset, duration int) (Preview, error) {
	upsertStmt := `insert into "previews"("video_id", "start_offset", "preview_duration") values($1, $2, $3)
		on conflict ("video_id") do update set "start_offset" = $2, "preview_duration" = $3, "status" = 'pending', "error_message" = '', "transcoded" = false, "updated_at" = now()
		returning ` + previewColumns
	row := s.db.QueryRowContext(ctx, upsertStmt, videoID, startOffset, duration)
	preview, err := scanPreview(row)
	if err != nil {
		return Preview{}, fmt.Errorf("error upserting preview for video %d: %w", videoID, err)
	}
	return preview, nil
}

func (s *PostgresStore) SetPreviewStatus(ctx context.Context, id int64, status PreviewStatus, errorMessage string) error {
	updateStmt := `update "previews" set "status" = $1, "error_message" = $2, "transcoded" = $3, "updated_at" = now() where "id" = $4`
	res, err := s.db.ExecContext(ctx, updateStmt, status, truncateError(errorMessage), status == PreviewCompleted, id)
	if err != nil {
		return fmt.Errorf("error updating preview %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("preview %d: %w", id, apiErrs.ErrNotFound)
	}
	return nil
}
