package platform

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfUnwrapsChains(t *testing.T) {
	base := ErrRateLimited("upstream said slow down", nil)
	wrapped := fmt.Errorf("sending message: %w", base)

	if got := CodeOf(wrapped); got != ErrCodeRateLimited {
		t.Errorf("CodeOf = %q, want %q", got, ErrCodeRateLimited)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("unclassified CodeOf = %q, want %q", got, ErrCodeInternal)
	}
	if got := CodeOf(nil); got != ErrCodeInternal {
		t.Errorf("nil CodeOf = %q, want %q", got, ErrCodeInternal)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{ErrRateLimited("429", nil), true},
		{ErrTransient("reset", errors.New("connection reset")), true},
		{ErrInvalidRequest("bad payload", nil), false},
		{ErrUnsupported("pins"), false},
		{ErrNotFound("gone", nil), false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	e := ErrIO("reading backup", errors.New("permission denied"))
	want := "[io_error] reading backup: permission denied"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	bare := ErrUnsupported("history on discord_webhook")
	if bare.Error() != "[unsupported] history on discord_webhook" {
		t.Errorf("Error() = %q", bare.Error())
	}

	if !errors.Is(e, e.Err) {
		t.Error("Unwrap should expose the cause")
	}
}
