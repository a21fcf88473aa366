package session

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/coordination-labs/messaging-gateway/internal/audit"
	"github.com/coordination-labs/messaging-gateway/internal/errors"
)

func TestLifecycle(t *testing.T) {
	s := New(nil, nil)

	if s.State() != Disconnected {
		t.Fatalf("initial state = %s, want disconnected", s.State())
	}
	if s.IsReady() {
		t.Fatal("fresh session reports ready")
	}

	s.Dispatch(PairingIssued{Code: "pairing-code-1"})
	if s.State() != PairingRequested {
		t.Fatalf("state = %s, want pairing_requested", s.State())
	}
	code, connected, ok := s.Credential()
	if !ok || connected || code != "pairing-code-1" {
		t.Fatalf("Credential() = (%q, %v, %v)", code, connected, ok)
	}
	if s.IsReady() {
		t.Fatal("pairing session reports ready")
	}

	s.Dispatch(AuthSucceeded{})
	if s.State() != Authenticated {
		t.Fatalf("state = %s, want authenticated", s.State())
	}

	s.Dispatch(ConnectionReady{SelfID: "15550001111@c.us"})
	if !s.IsReady() {
		t.Fatal("ready session reports not ready")
	}
	if s.SelfID() != "15550001111@c.us" {
		t.Fatalf("SelfID = %q", s.SelfID())
	}

	// Ready sessions report "already connected" instead of a credential.
	code, connected, ok = s.Credential()
	if ok || !connected || code != "" {
		t.Fatalf("Credential() after ready = (%q, %v, %v)", code, connected, ok)
	}

	s.Dispatch(ConnectionLost{Reason: "logged out"})
	if s.State() != Disconnected || s.IsReady() {
		t.Fatalf("state after disconnect = %s", s.State())
	}
	if _, _, ok := s.Credential(); ok {
		t.Fatal("credential survived disconnect")
	}
}

func TestNewPairingInvalidatesPreviousCredential(t *testing.T) {
	s := New(nil, nil)
	s.Dispatch(PairingIssued{Code: "first"})
	s.Dispatch(PairingIssued{Code: "second"})

	code, _, ok := s.Credential()
	if !ok || code != "second" {
		t.Fatalf("Credential() = (%q, %v), want second", code, ok)
	}
}

func TestAuthFailure(t *testing.T) {
	var buf bytes.Buffer
	s := New(audit.NewWithWriter(&buf, nil), nil)

	s.Dispatch(PairingIssued{Code: "code"})
	s.Dispatch(AuthFailure{Reason: "bad credentials"})

	if s.State() != AuthFailed || s.IsReady() {
		t.Fatalf("state = %s", s.State())
	}
	if _, _, ok := s.Credential(); ok {
		t.Fatal("credential survived auth failure")
	}
	if !bytes.Contains(buf.Bytes(), []byte("AUTH_FAILURE")) {
		t.Fatal("auth failure not audited")
	}
}

func TestWaitCredentialTransientFailure(t *testing.T) {
	s := New(nil, nil)

	start := time.Now()
	_, _, err := s.WaitCredential(context.Background(), 20*time.Millisecond)
	elapsed := time.Since(start)

	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil || serviceErr.Code != errors.CodeCredentialUnavailable {
		t.Fatalf("err = %v, want CREDENTIAL_UNAVAILABLE", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("wait took %v, not bounded by configured interval", elapsed)
	}
}

func TestWaitCredentialWakesOnIssuance(t *testing.T) {
	s := New(nil, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Dispatch(PairingIssued{Code: "late-code"})
	}()

	code, connected, err := s.WaitCredential(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("WaitCredential: %v", err)
	}
	if connected || code != "late-code" {
		t.Fatalf("WaitCredential = (%q, %v)", code, connected)
	}
}

func TestWaitCredentialAlreadyConnected(t *testing.T) {
	s := New(nil, nil)
	s.Dispatch(ConnectionReady{SelfID: "self@c.us"})

	code, connected, err := s.WaitCredential(context.Background(), time.Second)
	if err != nil || !connected || code != "" {
		t.Fatalf("WaitCredential = (%q, %v, %v)", code, connected, err)
	}
}

func TestWaitCredentialCancellable(t *testing.T) {
	s := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := s.WaitCredential(ctx, time.Minute)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitCredential did not honor cancellation")
	}
}

func TestCredentialImage(t *testing.T) {
	png, err := CredentialImage("some-pairing-code")
	if err != nil {
		t.Fatalf("CredentialImage: %v", err)
	}
	// PNG magic bytes.
	if len(png) < 8 || !bytes.Equal(png[:4], []byte{0x89, 'P', 'N', 'G'}) {
		t.Fatal("output is not a PNG")
	}

	if _, err := CredentialImage(""); err == nil {
		t.Fatal("expected encoding error for empty credential")
	} else if serviceErr := errors.GetServiceError(err); serviceErr == nil || serviceErr.Code != errors.CodeEncodingError {
		t.Fatalf("err = %v, want ENCODING_ERROR", err)
	}
}
