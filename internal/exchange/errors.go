package exchange

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// Provider error codes that map onto the engine's error taxonomy.
const (
	codeInvalidQuantity     = -1013
	codeAPIKeyFormat        = -2014
	codeRejectedKey         = -2015
	codeInsufficientBalance = -2010
)

// apiError is the JSON error envelope returned by the provider.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// classify maps an HTTP status plus decoded provider error onto a structured
// RemoteError. Kind dispatch replaces free-text matching: callers never
// inspect Msg.
func classify(endpoint string, statusCode int, apiErr apiError, headers http.Header) *domain.RemoteError {
	switch statusCode {
	case http.StatusTooManyRequests, 418: // 418 is the provider's auto-ban status
		return &domain.RemoteError{
			Kind:       domain.KindRateLimited,
			Endpoint:   endpoint,
			Code:       apiErr.Code,
			RetryAfter: retryAfter(headers),
			Err:        fmt.Errorf("HTTP %d: %s", statusCode, apiErr.Msg),
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &domain.RemoteError{
			Kind:     domain.KindConfig,
			Endpoint: endpoint,
			Code:     apiErr.Code,
			Err:      fmt.Errorf("%w: %s", domain.ErrUnauthorized, apiErr.Msg),
		}
	}

	switch apiErr.Code {
	case codeAPIKeyFormat, codeRejectedKey:
		return &domain.RemoteError{
			Kind:     domain.KindConfig,
			Endpoint: endpoint,
			Code:     apiErr.Code,
			Err:      fmt.Errorf("%w: %s", domain.ErrUnauthorized, apiErr.Msg),
		}
	case codeInvalidQuantity:
		return &domain.RemoteError{
			Kind:     domain.KindExchange,
			Endpoint: endpoint,
			Code:     apiErr.Code,
			Err:      fmt.Errorf("%w: %s", domain.ErrInvalidQuantity, apiErr.Msg),
		}
	case codeInsufficientBalance:
		return &domain.RemoteError{
			Kind:     domain.KindExchange,
			Endpoint: endpoint,
			Code:     apiErr.Code,
			Err:      fmt.Errorf("%w: %s", domain.ErrInsufficientBalance, apiErr.Msg),
		}
	}

	return &domain.RemoteError{
		Kind:     domain.KindNetwork,
		Endpoint: endpoint,
		Code:     apiErr.Code,
		Err:      fmt.Errorf("HTTP %d: %s", statusCode, apiErr.Msg),
	}
}

// retryAfter parses the Retry-After header. Zero means the provider did not
// state a back-off; callers can tell a stated delay from a missing one.
func retryAfter(headers http.Header) time.Duration {
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// fatalForChain reports whether an attempt's failure should stop the
// endpoint fallback instead of advancing to the next mirror. Credential and
// order-level rejections will fail identically everywhere; only transport
// and availability problems are worth retrying elsewhere.
func fatalForChain(err *domain.RemoteError) bool {
	switch err.Kind {
	case domain.KindConfig, domain.KindExchange:
		return true
	default:
		return false
	}
}
