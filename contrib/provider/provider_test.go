package provider

import (
	"errors"
	"testing"

	normerrors "github.com/sweetpotato0/normrag/errors"
)

func TestClassifyStatus(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		status      int
		rateLimited bool
		timeout     bool
	}{
		{429, true, false},
		{500, true, false},
		{503, true, false},
		{529, true, false},
		{408, false, true},
		{400, false, false},
		{401, false, false},
	}
	for _, tt := range tests {
		err := ClassifyStatus("openai", tt.status, base)
		if !errors.Is(err, base) {
			t.Errorf("status %d: original error lost", tt.status)
		}
		if got := errors.Is(err, normerrors.ErrRateLimited); got != tt.rateLimited {
			t.Errorf("status %d: rate limited = %v", tt.status, got)
		}
		if got := errors.Is(err, normerrors.ErrTimeout); got != tt.timeout {
			t.Errorf("status %d: timeout = %v", tt.status, got)
		}
	}
}
