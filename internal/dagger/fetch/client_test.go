package fetch

import (
	"net/http"
	"testing"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{in: 0, want: helpers.FetchResponseHeaderTimeout},
		{in: -time.Second, want: helpers.FetchResponseHeaderTimeout},
		{in: 45 * time.Second, want: 45 * time.Second},
	}
	for _, tt := range tests {
		c := New(tt.in)
		if c.Timeout != 0 {
			t.Fatalf("archive transfers must not have an overall timeout, got %s", c.Timeout)
		}
		tr, ok := c.Transport.(*http.Transport)
		if !ok {
			t.Fatalf("unexpected transport %T", c.Transport)
		}
		if tr.ResponseHeaderTimeout != tt.want || !tr.DisableCompression {
			t.Fatalf("New(%s): header timeout %s, compression disabled=%v", tt.in, tr.ResponseHeaderTimeout, tr.DisableCompression)
		}
	}
}
