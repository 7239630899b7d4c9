package influx

import (
	"context"
	"errors"
	"fmt"
	"testing"

	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &ihttp.Error{StatusCode: 503, Message: "unavailable"}, true},
		{"wrapped server error", fmt.Errorf("write: %w", &ihttp.Error{StatusCode: 500}), true},
		{"client error", &ihttp.Error{StatusCode: 400, Message: "bad query"}, false},
		{"unauthorized", &ihttp.Error{StatusCode: 401}, false},
		{"net timeout", timeoutErr{}, true},
		{"context canceled", context.Canceled, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTransient(tc.err); got != tc.want {
				t.Errorf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
