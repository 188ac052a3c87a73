package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	apiErrs "github.com/streamplex/transcode-api/errors"
	"github.com/streamplex/transcode-api/log"
	"github.com/streamplex/transcode-api/metrics"
	"github.com/streamplex/transcode-api/requests"
	"github.com/streamplex/transcode-api/scheduler"
	"github.com/streamplex/transcode-api/store"
	"github.com/streamplex/transcode-api/transcode"
	"github.com/streamplex/transcode-api/video"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mpegts"
)

type PlaybackHandlersCollection struct {
	Store     store.Store
	Scheduler *scheduler.Scheduler
	Layout    transcode.Layout
}

// Media serves everything under /video/:id/:resolution/. The playlist name
// and segment names share one route because they share the path prefix; the
// file parameter decides which it is.
func (p *PlaybackHandlersCollection) Media() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		requestID := requests.GetRequestId(req)

		videoID, err := strconv.ParseInt(params.ByName("id"), 10, 64)
		if err != nil {
			apiErrs.WriteHTTPNotFound(w, "not found", err)
			return
		}
		resolution := params.ByName("resolution")
		if _, err := video.RenditionByName(resolution); err != nil {
			apiErrs.WriteHTTPBadRequest(w, "Unsupported resolution", err)
			return
		}
		log.AddContext(requestID, "video_id", videoID, "resolution", resolution)

		if file := params.ByName("file"); file == transcode.PlaylistFileName {
			p.servePlaylist(w, req, requestID, videoID, resolution)
		} else {
			p.serveSegment(w, req, requestID, videoID, resolution, file)
		}
	}
}

func (p *PlaybackHandlersCollection) servePlaylist(w http.ResponseWriter, req *http.Request, requestID string, videoID int64, resolution string) {
	recreate := req.URL.Query().Get("recreate")
	force := recreate == "true" || recreate == "1"

	playlist, err := p.Scheduler.ServePlaylist(req.Context(), requestID, videoID, resolution, userID(req), force)
	if err != nil {
		handlePlaybackError(err, req, requestID, w)
		return
	}

	w.Header().Set("content-type", playlistContentType)
	w.Header().Set("cache-control", "max-age=0")
	if _, err := io.WriteString(w, playlist); err != nil {
		log.LogError(requestID, "failed to write response", err)
	}
}

func (p *PlaybackHandlersCollection) serveSegment(w http.ResponseWriter, req *http.Request, requestID string, videoID int64, resolution, file string) {
	opts := scheduler.SegmentOptions{
		Codec:   req.URL.Query().Get("codec"),
		Bitrate: req.URL.Query().Get("bitrate"),
	}
	if opts.Bitrate != "" {
		codec := opts.Codec
		if codec == "" {
			codec = video.DefaultCodec
		}
		if _, err := video.ValidateBitrate(codec, resolution, opts.Bitrate); err != nil {
			apiErrs.WriteHTTPBadRequest(w, "Unsupported bitrate", err)
			return
		}
	}

	kind := "segment"
	if file == transcode.InitSegmentName {
		kind = "init"
	}

	start := time.Now()
	path, err := p.Scheduler.ServeSegment(req.Context(), requestID, videoID, resolution, file, userID(req), opts)
	metrics.Metrics.SegmentRequestDurationSec.
		WithLabelValues(kind, strconv.FormatBool(err == nil)).
		Observe(time.Since(start).Seconds())
	if err != nil {
		handlePlaybackError(err, req, requestID, w)
		return
	}

	serveFile(w, requestID, path, segmentContentType)
}

// Preview serves the excerpt rendition's playlist and segments straight from
// disk. Nothing here triggers an encode; the pipeline or an explicit
// re-encode request produces the files.
func (p *PlaybackHandlersCollection) Preview() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		requestID := requests.GetRequestId(req)

		videoID, err := strconv.ParseInt(params.ByName("id"), 10, 64)
		if err != nil {
			apiErrs.WriteHTTPNotFound(w, "not found", err)
			return
		}
		file := params.ByName("file")

		contentType := segmentContentType
		switch {
		case file == transcode.PlaylistFileName:
			contentType = playlistContentType
		case file == transcode.InitSegmentName:
		case isPreviewSegmentName(file):
		default:
			apiErrs.WriteHTTPNotFound(w, "not found", fmt.Errorf("not a preview file: %s", file))
			return
		}

		serveFile(w, requestID, filepath.Join(p.Layout.PreviewDir(videoID), file), contentType)
	}
}

// Thumbnail serves the locally generated poster frame. Videos whose art came
// from the catalog have no local file and get a 404 here.
func (p *PlaybackHandlersCollection) Thumbnail() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		requestID := requests.GetRequestId(req)

		folder := params.ByName("folder")
		raw := strings.TrimPrefix(folder, "video_")
		videoID, err := strconv.ParseInt(raw, 10, 64)
		if raw == folder || err != nil {
			apiErrs.WriteHTTPNotFound(w, "not found", fmt.Errorf("not a video folder: %s", folder))
			return
		}
		if _, err := p.Store.GetVideo(req.Context(), videoID); err != nil {
			writeStoreError(w, "not found", err)
			return
		}

		serveFile(w, requestID, p.Layout.ThumbnailPath(videoID), "image/jpeg")
	}
}

func serveFile(w http.ResponseWriter, requestID, path, contentType string) {
	f, err := os.Open(path)
	if err != nil {
		apiErrs.WriteHTTPNotFound(w, "not found", err)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		apiErrs.WriteHTTPInternalServerError(w, "cannot stat file", err)
		return
	}

	w.Header().Set("content-type", contentType)
	w.Header().Set("content-length", fmt.Sprintf("%d", stat.Size()))
	w.Header().Set("content-disposition", "inline")
	w.Header().Set("cache-control", "max-age=0")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		log.LogError(requestID, "failed to write response", err)
	}
}

func handlePlaybackError(err error, req *http.Request, requestID string, w http.ResponseWriter) {
	log.LogError(requestID, "error in playback handler", err, "url", req.URL)
	switch {
	case errors.Is(err, apiErrs.ErrBusy):
		apiErrs.WriteHTTPAccepted(w, "in progress, retry shortly", nil)
	case errors.Is(err, apiErrs.ErrNotFound):
		apiErrs.WriteHTTPNotFound(w, "not found", nil)
	default:
		apiErrs.WriteHTTPInternalServerError(w, "internal server error", nil)
	}
}

func isPreviewSegmentName(name string) bool {
	if !strings.HasPrefix(name, "preview_") || !strings.HasSuffix(name, ".mp4") {
		return false
	}
	index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "preview_"), ".mp4"))
	return err == nil && index >= 0
}

// userID scopes continuous worker ownership. Unauthenticated players share
// one identity, so one anonymous viewer can take over another's worker.
func userID(req *http.Request) string {
	if id := req.Header.Get("X-User-Id"); id != "" {
		return id
	}
	return "anonymous"
}
