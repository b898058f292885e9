package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/netx"
)

// known lets a server error message map back to the exact sentinel when
// several share one status code.
var known = []error{
	common.ErrorNotFound,
	common.ErrorUnauthorized,
	common.ErrInvalidRequest,
	common.ErrInvalidToken,
	common.ErrTokenExpired,
	common.ErrAccessDenied,
	common.ErrNotParticipant,
	common.ErrFileTooLarge,
	common.ErrQuotaExceeded,
	common.ErrLoginIsTaken,
	common.ErrChecksumMismatch,
}

// mapStatus converts an error response into a sentinel wrapped with the
// server's message.
func mapStatus(code int, body []byte) error {
	var er dto.ErrorResponse
	_ = json.Unmarshal(body, &er)
	msg := er.Error
	if msg == "" {
		msg = http.StatusText(code)
	}

	for _, e := range known {
		if msg == e.Error() {
			return e
		}
	}

	var base error
	switch {
	case code == http.StatusUnauthorized:
		base = common.ErrorUnauthorized
	case code == http.StatusForbidden:
		base = common.ErrAccessDenied
	case code == http.StatusNotFound:
		base = common.ErrorNotFound
	case code == http.StatusConflict:
		base = common.ErrLoginIsTaken
	case code == http.StatusRequestEntityTooLarge:
		base = common.ErrQuotaExceeded
	case code == http.StatusBadRequest:
		base = common.ErrInvalidRequest
	case code == http.StatusServiceUnavailable, code == http.StatusBadGateway, code == http.StatusGatewayTimeout:
		base = common.ErrUnavailable
	default:
		base = common.ErrorInternal
	}
	return fmt.Errorf("%w: %s", base, msg)
}

// mapError handles errors coming from netx helpers.
func mapError(err error) error {
	var se *netx.StatusError
	if errors.As(err, &se) {
		return mapStatus(se.StatusCode, []byte(se.Body))
	}
	return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
}
