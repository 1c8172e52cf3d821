package retry_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/relayworks/relay/pkg/relay/retry"
)

func TestClassifyExplicitKinds(t *testing.T) {
	base := errors.New("boom")

	if got := retry.Classify(retry.Transient(base, "send")); got != retry.KindTransient {
		t.Errorf("transient wrapper classified as %s", got)
	}
	if got := retry.Classify(retry.Permanent(base, "decode")); got != retry.KindPermanent {
		t.Errorf("permanent wrapper classified as %s", got)
	}
}

func TestClassifyWrappedFailure(t *testing.T) {
	// Classification must survive further wrapping.
	err := fmt.Errorf("handling order: %w", retry.Permanent(errors.New("bad schema"), "decode"))

	if !retry.IsPermanent(err) {
		t.Error("wrapped permanent failure should stay permanent")
	}
}

func TestClassifyDeserializationErrors(t *testing.T) {
	var target struct{ N int }

	syntaxErr := json.Unmarshal([]byte("{not json"), &target)
	if syntaxErr == nil {
		t.Fatal("expected a syntax error")
	}
	if !retry.IsPermanent(syntaxErr) {
		t.Error("JSON syntax errors should be permanent")
	}

	typeErr := json.Unmarshal([]byte(`{"N": "text"}`), &target)
	if typeErr == nil {
		t.Fatal("expected a type error")
	}
	if !retry.IsPermanent(typeErr) {
		t.Error("JSON type errors should be permanent")
	}
}

func TestClassifyUnknownDefaultsTransient(t *testing.T) {
	if got := retry.Classify(errors.New("connection reset")); got != retry.KindTransient {
		t.Errorf("unknown error classified as %s, want transient", got)
	}
}

func TestHandlerFailureError(t *testing.T) {
	err := retry.Transient(errors.New("timeout"), "notify downstream")

	msg := err.Error()
	if msg != "notify downstream: timeout (transient)" {
		t.Errorf("unexpected message: %q", msg)
	}
	if !errors.Is(err, err.Err) {
		t.Error("Unwrap should expose the underlying error")
	}
}
