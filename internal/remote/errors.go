package remote

import (
	"errors"
	"fmt"
)

var (
	ErrConnection = errors.New("connection error")
	ErrServer     = errors.New("server error")
	ErrParse      = errors.New("parse error")
	ErrDownload   = errors.New("download error")
)

// StatusError reports a response whose status code was not 200.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api %s returned status %d", e.Path, e.Code)
}

// Kind names the fetch failure class for logs and metrics: "connection",
// "server", "parse", or "" when err is none of them.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrServer):
		return "server"
	case errors.Is(err, ErrParse):
		return "parse"
	default:
		return ""
	}
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}
