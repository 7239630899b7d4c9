package influx

import (
	"context"
	"errors"
	"net"

	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
)

// isTransient reports whether an error is worth retrying: connection-level
// failures and server-side (5xx) responses. Client errors (bad query, auth,
// 4xx) are permanent and surface immediately.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *ihttp.Error
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
