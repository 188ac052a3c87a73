package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func mediaParams(id int64, resolution, file string) httprouter.Params {
	return httprouter.Params{
		{Key: "id", Value: fmt.Sprintf("%d", id)},
		{Key: "resolution", Value: resolution},
		{Key: "file", Value: file},
	}
}

func TestPlaylistHandler(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	vid := f.addVideo(t)
	handle := f.playback.Media()

	rr := doRequest(handle, "GET", fmt.Sprintf("/video/%d/720p/index.m3u8", vid.ID), nil, mediaParams(vid.ID, "720p", "index.m3u8"))
	require.Equal(http.StatusOK, rr.Code)
	require.Equal(playlistContentType, rr.Header().Get("content-type"))
	require.Contains(rr.Body.String(), "#EXTM3U")
	require.Contains(rr.Body.String(), "segment_000.mp4")
	require.FileExists(f.layout.PlaylistPath(vid.ID))

	rr = doRequest(handle, "GET", "/video/999/720p/index.m3u8", nil, mediaParams(999, "720p", "index.m3u8"))
	require.Equal(http.StatusNotFound, rr.Code)

	rr = doRequest(handle, "GET", fmt.Sprintf("/video/%d/333p/index.m3u8", vid.ID), nil, mediaParams(vid.ID, "333p", "index.m3u8"))
	require.Equal(http.StatusBadRequest, rr.Code)

	rr = doRequest(handle, "GET", "/video/abc/720p/index.m3u8", nil, httprouter.Params{
		{Key: "id", Value: "abc"},
		{Key: "resolution", Value: "720p"},
		{Key: "file", Value: "index.m3u8"},
	})
	require.Equal(http.StatusNotFound, rr.Code)
}

func TestSegmentHandlerFromDisk(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	vid := f.addVideo(t)
	handle := f.playback.Media()

	segmentPath := f.layout.SegmentPath(vid.ID, "720p", "segment_004.mp4")
	require.NoError(os.MkdirAll(filepath.Dir(segmentPath), 0755))
	require.NoError(os.WriteFile(segmentPath, []byte("segment bytes"), 0644))

	rr := doRequest(handle, "GET", fmt.Sprintf("/video/%d/720p/segment_004.mp4", vid.ID), nil, mediaParams(vid.ID, "720p", "segment_004.mp4"))
	require.Equal(http.StatusOK, rr.Code)
	require.Equal(segmentContentType, rr.Header().Get("content-type"))
	require.Equal("inline", rr.Header().Get("content-disposition"))
	require.Equal("segment bytes", rr.Body.String())
}

func TestSegmentHandlerErrors(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	vid := f.addVideo(t)
	handle := f.playback.Media()

	rr := doRequest(handle, "GET", fmt.Sprintf("/video/%d/720p/%s", vid.ID, "..%2F..%2Fetc%2Fpasswd"), nil, mediaParams(vid.ID, "720p", "../../etc/passwd"))
	require.Equal(http.StatusNotFound, rr.Code)

	rr = doRequest(handle, "GET", fmt.Sprintf("/video/%d/720p/segment_000.mp4?bitrate=9999", vid.ID), nil, mediaParams(vid.ID, "720p", "segment_000.mp4"))
	require.Equal(http.StatusBadRequest, rr.Code)

	// the source is garbage, the one-shot encode fails
	rr = doRequest(handle, "GET", fmt.Sprintf("/video/%d/720p/segment_000.mp4", vid.ID), nil, mediaParams(vid.ID, "720p", "segment_000.mp4"))
	require.Equal(http.StatusInternalServerError, rr.Code)
}

func TestPreviewHandler(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	vid := f.addVideo(t)
	handle := f.playback.Preview()

	previewDir := f.layout.PreviewDir(vid.ID)
	require.NoError(os.MkdirAll(previewDir, 0755))
	require.NoError(os.WriteFile(filepath.Join(previewDir, "index.m3u8"), []byte("#EXTM3U\n"), 0644))
	require.NoError(os.WriteFile(filepath.Join(previewDir, "preview_000.mp4"), []byte("excerpt"), 0644))

	params := func(file string) httprouter.Params {
		return httprouter.Params{
			{Key: "id", Value: fmt.Sprintf("%d", vid.ID)},
			{Key: "file", Value: file},
		}
	}

	rr := doRequest(handle, "GET", fmt.Sprintf("/preview/%d/index.m3u8", vid.ID), nil, params("index.m3u8"))
	require.Equal(http.StatusOK, rr.Code)
	require.Equal(playlistContentType, rr.Header().Get("content-type"))

	rr = doRequest(handle, "GET", fmt.Sprintf("/preview/%d/preview_000.mp4", vid.ID), nil, params("preview_000.mp4"))
	require.Equal(http.StatusOK, rr.Code)
	require.Equal("excerpt", rr.Body.String())

	// missing but well-formed names 404 without touching anything else
	rr = doRequest(handle, "GET", fmt.Sprintf("/preview/%d/preview_001.mp4", vid.ID), nil, params("preview_001.mp4"))
	require.Equal(http.StatusNotFound, rr.Code)

	rr = doRequest(handle, "GET", fmt.Sprintf("/preview/%d/evil.txt", vid.ID), nil, params("evil.txt"))
	require.Equal(http.StatusNotFound, rr.Code)
}

func TestThumbnailHandler(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	vid := f.addVideo(t)
	handle := f.playback.Thumbnail()

	thumbnailPath := f.layout.ThumbnailPath(vid.ID)
	require.NoError(os.MkdirAll(filepath.Dir(thumbnailPath), 0755))
	require.NoError(os.WriteFile(thumbnailPath, []byte("jpeg bytes"), 0644))

	params := func(folder string) httprouter.Params {
		return httprouter.Params{{Key: "folder", Value: folder}}
	}

	rr := doRequest(handle, "GET", fmt.Sprintf("/thumbnail/video_%d/thumbnail.jpg", vid.ID), nil, params(fmt.Sprintf("video_%d", vid.ID)))
	require.Equal(http.StatusOK, rr.Code)
	require.Equal("image/jpeg", rr.Header().Get("content-type"))
	require.Equal("jpeg bytes", rr.Body.String())

	rr = doRequest(handle, "GET", "/thumbnail/video_999/thumbnail.jpg", nil, params("video_999"))
	require.Equal(http.StatusNotFound, rr.Code)

	rr = doRequest(handle, "GET", "/thumbnail/poster_1/thumbnail.jpg", nil, params("poster_1"))
	require.Equal(http.StatusNotFound, rr.Code)
}

func TestPreviewSegmentNames(t *testing.T) {
	require := require.New(t)
	require.True(isPreviewSegmentName("preview_000.mp4"))
	require.True(isPreviewSegmentName("preview_012.mp4"))
	require.False(isPreviewSegmentName("preview_.mp4"))
	require.False(isPreviewSegmentName("segment_000.mp4"))
	require.False(isPreviewSegmentName("preview_000.ts"))
}

func TestUserIDHeader(t *testing.T) {
	require := require.New(t)

	req := httptest.NewRequest("GET", "/video/1/720p/index.m3u8", nil)
	require.Equal("anonymous", userID(req))

	req.Header.Set("X-User-Id", "alice")
	require.Equal("alice", userID(req))
}
