package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	if got := (&ValidationError{Reason: "bad"}).Error(); !strings.HasPrefix(got, "validation:") {
		t.Errorf("ValidationError = %q", got)
	}
	if got := (&DataError{Reason: "bad"}).Error(); !strings.Contains(got, "bad") {
		t.Errorf("DataError = %q", got)
	}
	if got := (&UnsupportedError{Reason: "bad"}).Error(); !strings.Contains(got, "bad") {
		t.Errorf("UnsupportedError = %q", got)
	}
}

func TestPersistenceErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := &PersistenceError{Op: "insert indicator data", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("PersistenceError does not unwrap to its cause")
	}
	wrapped := fmt.Errorf("run: %w", err)
	var pErr *PersistenceError
	if !errors.As(wrapped, &pErr) || pErr.Op != "insert indicator data" {
		t.Errorf("errors.As through wrap failed: %v", wrapped)
	}
}
