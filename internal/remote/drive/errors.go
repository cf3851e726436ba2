package drive

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/imroc/req/v3"
	"github.com/openmined/drivesync/internal/remote"
)

var (
	ErrNoToken        = errors.New("drive: no saved token, run `drivesync login`")
	ErrNoCredentials  = errors.New("drive: oauth client credentials missing")
	ErrNoUploadURL    = errors.New("drive: upload session url missing")
	ErrContentChanged = errors.New("drive: content size changed during upload")
)

// reasons Drive reports with a 403 that are really rate limits
var rateLimitReasons = []string{"rateLimitExceeded", "userRateLimitExceeded"}

type errorDetail struct {
	Domain  string `json:"domain"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// apiError is the error envelope returned by every Drive v3 endpoint.
type apiError struct {
	Err struct {
		Code    int           `json:"code"`
		Message string        `json:"message"`
		Errors  []errorDetail `json:"errors"`
	} `json:"error"`
}

func (e *apiError) reason() string {
	if len(e.Err.Errors) > 0 {
		return e.Err.Errors[0].Reason
	}
	return ""
}

// handleAPIError converts a failed request into a *remote.Error.
func handleAPIError(resp *req.Response, requestErr error, op string) error {
	if requestErr != nil {
		return &remote.Error{Op: op, Err: requestErr, Transient: remote.IsTransient(requestErr)}
	}

	if !resp.IsErrorState() {
		return nil
	}

	rerr := &remote.Error{
		Op:        op,
		Status:    resp.StatusCode,
		Transient: remote.TransientStatus(resp.StatusCode),
	}
	if body, ok := resp.ErrorResult().(*apiError); ok && body.Err.Code != 0 {
		rerr.Code = body.reason()
		rerr.Message = body.Err.Message
		if resp.StatusCode == http.StatusForbidden && slices.Contains(rateLimitReasons, rerr.Code) {
			rerr.Transient = true
		}
	} else {
		rerr.Message = fmt.Sprintf("unexpected response: %s", resp.Status)
	}
	return rerr
}
