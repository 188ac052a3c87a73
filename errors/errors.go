package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/streamplex/transcode-api/log"
	"github.com/xeipuuv/gojsonschema"
)

// Sentinels for the scheduler and its collaborators. Handlers translate these
// to HTTP statuses; background workers record them in result records.
var (
	// Another writer holds the lockfile for the artifact. Playlist handlers
	// surface this as 202 so the player retries.
	ErrBusy = errors.New("busy: another writer holds the lock")

	// The probe produced no usable keyframes. Fatal for playlist synthesis.
	ErrKeyframesUnavailable = errors.New("no usable keyframes in source")

	// The continuous worker self-terminated after the inactivity window.
	ErrInactiveTimeout = errors.New("no player activity, worker stopped")

	// A segment was still absent after an encode attempt.
	ErrNotFound = errors.New("not found")

	// The probe tool exited non-zero or produced unparseable output.
	ErrProbeFailed = errors.New("probe failed")
)

const maxEncodeErrorDetail = 2000

// EncodeError reports a non-zero encoder exit together with a bounded tail of
// its stderr, suitable for persisting on a Preview row.
type EncodeError struct {
	ExitCode int
	Detail   string
}

func NewEncodeError(exitCode int, stderr string) EncodeError {
	if len(stderr) > maxEncodeErrorDetail {
		stderr = stderr[len(stderr)-maxEncodeErrorDetail:]
	}
	return EncodeError{ExitCode: exitCode, Detail: stderr}
}

func (e EncodeError) Error() string {
	return fmt.Sprintf("encoder exited with code %d: %s", e.ExitCode, e.Detail)
}

// Unretriable marks an error as permanent for retry loops driven by backoff
// and for anything else that wants to know whether trying again can help.
func Unretriable(err error) error {
	return backoff.Permanent(err)
}

func IsUnretriable(err error) bool {
	var permErr *backoff.PermanentError
	return errors.As(err, &permErr)
}

type apiError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) apiError {
	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoRequestID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}

	return apiError{msg, status, err}
}

// HTTP Errors
func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPUnsupportedMediaType(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusUnsupportedMediaType, err)
}

func WriteHTTPTooManyRequests(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusTooManyRequests, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

// WriteHTTPAccepted tells the player the artifact is being produced by
// someone else and a retry will find it.
func WriteHTTPAccepted(w http.ResponseWriter, msg string, err error) apiError {
	return writeHttpError(w, msg, http.StatusAccepted, err)
}

func WriteHTTPBadBodySchema(where string, w http.ResponseWriter, errors []gojsonschema.ResultError) apiError {
	sb := strings.Builder{}
	sb.WriteString("Body validation error in ")
	sb.WriteString(where)
	sb.WriteString(" ")
	for i := 0; i < len(errors); i++ {
		sb.WriteString(errors[i].String())
		sb.WriteString(" ")
	}
	return writeHttpError(w, sb.String(), http.StatusBadRequest, nil)
}
