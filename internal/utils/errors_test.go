package utils

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindErrorMessageIsSingleLine(t *testing.T) {
	cause := errors.Join(
		fmt.Errorf("lexical: %w", errors.New("connection refused")),
		fmt.Errorf("vector: %w", errors.New("knn timeout")),
	)
	err := KindError("hybrid search logs", ErrRetrievalUnavailable, cause)

	want := "hybrid search logs: retrieval unavailable: lexical: connection refused; vector: knn timeout"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
	if strings.Count(err.Error(), ErrRetrievalUnavailable.Error()) != 1 {
		t.Fatalf("kind repeated in %q", err.Error())
	}
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("expected kind match")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause match")
	}
}

func TestKindErrorWithoutCause(t *testing.T) {
	err := KindError("investigate", ErrEvidenceExhausted, nil)
	if err.Error() != "investigate: evidence exhausted" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrEvidenceExhausted) {
		t.Fatalf("expected kind match")
	}
}

func TestAppErrorKeepsCauseInMessage(t *testing.T) {
	err := NewAppError("load config", "invalid file", errors.New("bad yaml"))
	if err.Error() != "load config: invalid file: bad yaml" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
