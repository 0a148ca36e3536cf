// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apploader

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{SessionBusy, "session_busy"},
		{InsufficientSpace, "insufficient_space"},
		{SizeMismatch, "size_mismatch"},
		{DecompressionFailed, "decompression_failed"},
		{StorageWriteFailed, "storage_write_failed"},
		{VerificationFailed, "verification_failed"},
		{AuthorizationFailed, "authorization_failed"},
		{ErrorKind(42), "unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestErrorMatchesSentinelByKind(t *testing.T) {
	cause := errors.New("flash page locked")
	err := fmt.Errorf("loading app: %w", &Error{Kind: StorageWriteFailed, Err: cause})

	if !errors.Is(err, ErrStorageWriteFailed) {
		t.Error("wrapped error should match ErrStorageWriteFailed")
	}
	if errors.Is(err, ErrVerificationFailed) {
		t.Error("wrapped error should not match ErrVerificationFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error should match its cause")
	}
	if KindOf(err) != StorageWriteFailed {
		t.Errorf("KindOf = %v, want storage_write_failed", KindOf(err))
	}
	if KindOf(cause) != 0 {
		t.Errorf("KindOf(plain error) = %v, want 0", KindOf(cause))
	}

	want := "apploader: storage_write_failed: flash page locked"
	if got := (&Error{Kind: StorageWriteFailed, Err: cause}).Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got := ErrSessionBusy.Error(); got != "apploader: session_busy" {
		t.Errorf("sentinel Error() = %q", got)
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		Idle:          "idle",
		Decompressing: "decompressing",
		Writing:       "writing",
		WritingFinal:  "writing_final",
		Verifying:     "verifying",
		Authorizing:   "authorizing",
		Done:          "done",
		State(99):     "unknown(99)",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
