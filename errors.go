package cadastro

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	ErrAuth            = errors.New("authentication required")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("record not found")
	ErrRemote          = errors.New("remote request failed")
	ErrValidation      = errors.New("validation failed")
	ErrClosed          = errors.New("client is closed")
	ErrNoBlobStore     = errors.New("no blob store configured")
)

// RemoteError is a non-2xx answer from Sheets or Drive.
type RemoteError struct {
	Service    string // "sheets" or "drive"
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Service, e.StatusCode)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is makes every RemoteError match ErrRemote, and 401 answers match ErrAuth too.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRemote:
		return true
	case ErrAuth:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// WrapRemote converts a googleapi error into a *RemoteError. Errors that
// did not come from an HTTP answer are returned unchanged.
func WrapRemote(service string, err error) error {
	if err == nil {
		return nil
	}
	var existing *RemoteError
	if errors.As(err, &existing) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &RemoteError{
			Service:    service,
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return err
}

// IsStatus reports whether err is a RemoteError carrying the given status code.
func IsStatus(err error, code int) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.StatusCode == code
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
