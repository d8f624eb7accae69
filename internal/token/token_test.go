package token

import (
	"testing"
	"time"

	"github.com/quizsync/engine/internal/apperr"
	"github.com/quizsync/engine/internal/clock"
	"github.com/quizsync/engine/internal/domain"
)

func TestMintAndValidateRoundTrip(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	issuer, err := New([]byte("test-signing-key"), time.Hour, fake)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	raw, err := issuer.Mint("sess-1", domain.RoleParticipant, "participant-9")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	binding, err := issuer.Validate(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if binding.SessionID != "sess-1" || binding.Role != domain.RoleParticipant || binding.Subject != "participant-9" {
		t.Fatalf("unexpected binding: %+v", binding)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	issuer, err := New([]byte("test-signing-key"), time.Minute, fake)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	raw, err := issuer.Mint("sess-1", domain.RoleController, "host-1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	fake.Advance(2 * time.Minute)

	_, err = issuer.Validate(raw)
	if err == nil {
		t.Fatalf("expected expiry error")
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != apperr.ExpiredToken {
		t.Fatalf("expected ExpiredToken, got %v", err)
	}
}

func TestValidateForSessionRejectsMismatch(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	issuer, err := New([]byte("test-signing-key"), time.Hour, fake)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	raw, err := issuer.Mint("sess-1", domain.RoleParticipant, "participant-9")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err = issuer.ValidateForSession(raw, "sess-2")
	if err == nil {
		t.Fatalf("expected session mismatch error")
	}
}

func TestValidateRejectsEmptyToken(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	issuer, err := New([]byte("test-signing-key"), time.Hour, fake)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	_, err = issuer.Validate("")
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != apperr.MissingToken {
		t.Fatalf("expected MissingToken, got %v", err)
	}
}
