package bsky

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	indigoxrpc "github.com/bluesky-social/indigo/xrpc"
)

var (
	ErrRateLimited  = errors.New("rate limited by the service")
	ErrNotFound     = errors.New("record or actor not found")
	ErrUnauthorized = errors.New("unauthorized xrpc request")
	ErrServer       = errors.New("service returned a server error")
	ErrFailed       = errors.New("xrpc request failed")
	ErrUnavailable  = errors.New("service unavailable, too many consecutive failures")
	ErrNotLoggedIn  = errors.New("client has no session")
)

// handleXrpcErr maps an indigo xrpc error onto one of the sentinels above,
// keeping the original error in the chain for logging.
func handleXrpcErr(err error) error {
	if err == nil {
		return nil
	}

	var xrpcerr *indigoxrpc.Error
	if ok := errors.As(err, &xrpcerr); !ok {
		return err
	}

	switch xrpcerr.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case http.StatusBadRequest:
		// the appview answers unknown actors with a 400 and an error name
		var inner *indigoxrpc.XRPCError
		if errors.As(xrpcerr.Wrapped, &inner) {
			switch inner.ErrStr {
			case "NotFound", "RecordNotFound", "ActorNotFound", "AccountDeactivated", "AccountTakedown":
				return fmt.Errorf("%w: %w", ErrNotFound, err)
			case "ExpiredToken", "InvalidToken":
				return fmt.Errorf("%w: %w", ErrUnauthorized, err)
			case "InvalidRequest":
				// "Profile not found"
				if strings.Contains(strings.ToLower(inner.Message), "not found") {
					return fmt.Errorf("%w: %w", ErrNotFound, err)
				}
			}
		}
		return fmt.Errorf("%w: %w", ErrFailed, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if xrpcerr.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %w", ErrServer, err)
	}
	return fmt.Errorf("%w: %w", ErrFailed, err)
}

// transient errors are worth retrying and count against the breaker
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServer) {
		return true
	}
	// transport failures surface as *url.Error from net/http
	var urlerr *url.Error
	return errors.As(err, &urlerr)
}
