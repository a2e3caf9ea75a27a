package resilience

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	for _, err := range []error{ErrCircuitOpen, ErrMaxRetriesExceeded, ErrTimeout} {
		if err == nil || err.Error() == "" {
			t.Errorf("sentinel %v has no message", err)
		}
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}

	base := errors.New("duplicate")
	wrapped := fmt.Errorf("write: %w", Permanent(base))

	if !IsPermanent(wrapped) {
		t.Error("IsPermanent should see through wrapping")
	}
	if !errors.Is(wrapped, base) {
		t.Error("Permanent must keep the cause reachable")
	}
	if IsPermanent(base) {
		t.Error("plain error reported as permanent")
	}
}
