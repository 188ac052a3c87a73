package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	apiErrs "github.com/streamplex/transcode-api/errors"
	"github.com/streamplex/transcode-api/log"
	"github.com/streamplex/transcode-api/pipeline"
	"github.com/streamplex/transcode-api/requests"
	"github.com/streamplex/transcode-api/scheduler"
	"github.com/streamplex/transcode-api/store"
	"github.com/streamplex/transcode-api/transcode"
)

type TranscodeAPIHandlersCollection struct {
	Store     store.Store
	Scheduler *scheduler.Scheduler
	Pipeline  *pipeline.Coordinator
	Layout    transcode.Layout
}

func (d *TranscodeAPIHandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		io.WriteString(w, "OK")
	}
}

type RegisterVideoRequest struct {
	Source      string `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	MediaType   string `json:"media_type"`
	ReleaseYear int    `json:"release_year"`
	ExternalID  string `json:"external_id"`
}

const RegisterVideoRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"source":       {"type": "string", "minLength": 1},
		"title":        {"type": "string"},
		"description":  {"type": "string"},
		"category":     {"type": "string"},
		"media_type":   {"type": "string"},
		"release_year": {"type": "integer"},
		"external_id":  {"type": "string"}
	},
	"required": ["source"],
	"additionalProperties": false
}`

func HasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return mimetype == "application/octet-stream"
	}

	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}

	return false
}

// RegisterVideo creates the catalog entry for a source file already present
// under the media directory and kicks off the post-upload pipeline.
func (d *TranscodeAPIHandlersCollection) RegisterVideo() httprouter.Handle {
	schema := inputSchemasCompiled["RegisterVideo"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var registerRequest RegisterVideoRequest

		if !HasContentType(req, "application/json") {
			apiErrs.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
			return
		} else if payload, err := io.ReadAll(req.Body); err != nil {
			apiErrs.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		} else if result, err := schema.Validate(gojsonschema.NewBytesLoader(payload)); err != nil {
			apiErrs.WriteHTTPInternalServerError(w, "Cannot validate payload", err)
			return
		} else if !result.Valid() {
			apiErrs.WriteHTTPBadBodySchema("RegisterVideo", w, result.Errors())
			return
		} else if err := json.Unmarshal(payload, &registerRequest); err != nil {
			apiErrs.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}

		requestID := requests.GetRequestId(req)
		log.AddContext(requestID, "source", registerRequest.Source)

		source := registerRequest.Source
		if filepath.IsAbs(source) || strings.Contains(source, "..") {
			apiErrs.WriteHTTPBadRequest(w, "Source must be a relative path inside the media directory", fmt.Errorf("got %q", source))
			return
		}
		if _, err := os.Stat(d.Layout.SourcePath(source)); err != nil {
			apiErrs.WriteHTTPBadRequest(w, "Source file not found in media directory", err)
			return
		}

		vid := store.Video{
			Title:       registerRequest.Title,
			Description: registerRequest.Description,
			Category:    registerRequest.Category,
			MediaType:   registerRequest.MediaType,
			ReleaseYear: registerRequest.ReleaseYear,
			ExternalID:  registerRequest.ExternalID,
			SourcePath:  source,
		}
		if vid.Title == "" {
			vid.Title = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
		}
		if vid.ExternalID == "" {
			vid.ExternalID = uuid.New().String()
		}
		if err := d.Store.CreateVideo(req.Context(), &vid); err != nil {
			apiErrs.WriteHTTPInternalServerError(w, "Cannot store video", err)
			return
		}
		log.AddContext(requestID, "video_id", vid.ID)
		log.Log(requestID, "video registered", "title", vid.Title)

		d.Pipeline.StartPostUpload(requestID, vid.ID)

		writeJSON(w, http.StatusCreated, vid)
	}
}

// VideoStatusResponse is the catalog row plus whatever transient state the
// service holds for it: the preview row and, while the post-upload pipeline
// is still running, its step results so far.
type VideoStatusResponse struct {
	store.Video
	Preview       *store.Preview        `json:"preview,omitempty"`
	PipelineSteps []pipeline.StepResult `json:"pipeline_steps,omitempty"`
}

func (d *TranscodeAPIHandlersCollection) GetVideo() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		videoID, err := strconv.ParseInt(params.ByName("id"), 10, 64)
		if err != nil {
			apiErrs.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}
		vid, err := d.Store.GetVideo(req.Context(), videoID)
		if err != nil {
			writeStoreError(w, "Cannot load video", err)
			return
		}

		response := VideoStatusResponse{Video: vid}
		if preview, err := d.Store.GetPreview(req.Context(), videoID); err == nil {
			response.Preview = &preview
		}
		if job := d.Pipeline.Job(videoID); job != nil {
			response.PipelineSteps = job.StepResults()
		}
		writeJSON(w, http.StatusOK, response)
	}
}

// ReencodePreview rewinds the video's preview row to pending and re-runs the
// excerpt encode in the background. Responds 202 with the reset row.
func (d *TranscodeAPIHandlersCollection) ReencodePreview() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		videoID, err := strconv.ParseInt(params.ByName("id"), 10, 64)
		if err != nil {
			apiErrs.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}
		requestID := requests.GetRequestId(req)

		preview, err := d.Pipeline.ReencodePreview(requestID, videoID)
		if err != nil {
			writeStoreError(w, "Cannot re-encode preview", err)
			return
		}
		writeJSON(w, http.StatusAccepted, preview)
	}
}

// DeleteVideo stops the video's continuous workers, removes every derived
// artifact and drops the catalog row. The uploaded source file stays.
func (d *TranscodeAPIHandlersCollection) DeleteVideo() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		videoID, err := strconv.ParseInt(params.ByName("id"), 10, 64)
		if err != nil {
			apiErrs.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}
		requestID := requests.GetRequestId(req)
		if _, err := d.Store.GetVideo(req.Context(), videoID); err != nil {
			writeStoreError(w, "Cannot load video", err)
			return
		}

		d.Scheduler.KillAllContinuous(requestID, videoID, "delete")
		for _, dir := range []string{
			d.Layout.TranscodeDir(videoID),
			d.Layout.PlaylistDir(videoID),
			d.Layout.PreviewDir(videoID),
		} {
			if err := os.RemoveAll(dir); err != nil {
				log.LogError(requestID, "failed to remove derived media", err, "dir", dir)
			}
		}

		if err := d.Store.DeleteVideo(req.Context(), videoID); err != nil {
			apiErrs.WriteHTTPInternalServerError(w, "Cannot delete video", err)
			return
		}
		log.Log(requestID, "video deleted", "video_id", videoID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		apiErrs.WriteHTTPInternalServerError(w, "Cannot marshal response", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeStoreError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, apiErrs.ErrNotFound) {
		apiErrs.WriteHTTPNotFound(w, msg, err)
		return
	}
	apiErrs.WriteHTTPInternalServerError(w, msg, err)
}
