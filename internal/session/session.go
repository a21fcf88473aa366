// Package session owns the single WhatsApp connection state machine: the
// lifecycle of the transport link, the live pairing credential, and the
// readiness gate every group operation checks.
package session

import (
	"context"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/coordination-labs/messaging-gateway/internal/audit"
	"github.com/coordination-labs/messaging-gateway/internal/errors"
	"github.com/coordination-labs/messaging-gateway/internal/logging"
	"github.com/coordination-labs/messaging-gateway/internal/metrics"
)

// State is the connection lifecycle state.
type State string

const (
	Disconnected     State = "disconnected"
	PairingRequested State = "pairing_requested"
	Authenticated    State = "authenticated"
	Ready            State = "ready"
	AuthFailed       State = "auth_failed"
)

// DefaultCredentialWait bounds the single deferred retry when a caller asks
// for the pairing credential before the transport has issued one.
const DefaultCredentialWait = 2 * time.Second

// Event is a typed transport lifecycle notification. The transport adapter
// posts events; the session applies them through one transition handler.
type Event interface{ event() }

// PairingIssued carries a fresh pairing code. It invalidates any previous
// credential.
type PairingIssued struct{ Code string }

// AuthSucceeded signals the credential was consumed and accepted.
type AuthSucceeded struct{}

// ConnectionReady signals the handshake completed; SelfID is the session's
// own transport identity.
type ConnectionReady struct{ SelfID string }

// ConnectionLost signals an external disconnect.
type ConnectionLost struct{ Reason string }

// AuthFailure signals a fatal authentication or initialization error.
type AuthFailure struct{ Reason string }

func (PairingIssued) event()   {}
func (AuthSucceeded) event()   {}
func (ConnectionReady) event() {}
func (ConnectionLost) event()  {}
func (AuthFailure) event()     {}

// Session is the process-wide connection state holder. All fields are guarded
// by one mutex so concurrent readers always observe a consistent snapshot of
// state, credential, and readiness.
type Session struct {
	mu             sync.Mutex
	state          State
	credential     string
	selfID         string
	lastTransition time.Time
	credIssued     chan struct{}

	audit *audit.Log
	log   *logging.Logger
}

// New creates a session in the Disconnected state.
func New(auditLog *audit.Log, log *logging.Logger) *Session {
	if log == nil {
		log = logging.NewDefault("session")
	}
	return &Session{
		state:      Disconnected,
		credIssued: make(chan struct{}),
		audit:      auditLog,
		log:        log,
	}
}

// Dispatch applies one transport event. This is the only place state
// transitions happen.
func (s *Session) Dispatch(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := evt.(type) {
	case PairingIssued:
		s.transition(PairingRequested)
		s.credential = e.Code
		// Wake anyone waiting for the first credential, then arm a fresh
		// notification channel for the next issuance.
		close(s.credIssued)
		s.credIssued = make(chan struct{})
		s.logConnection("QR_GENERATED", map[string]interface{}{"qrLength": len(e.Code)})

	case AuthSucceeded:
		s.transition(Authenticated)
		s.credential = ""
		s.logConnection("AUTHENTICATED", nil)

	case ConnectionReady:
		s.transition(Ready)
		s.credential = ""
		s.selfID = e.SelfID
		s.logConnection("CONNECTED", nil)

	case ConnectionLost:
		s.transition(Disconnected)
		s.credential = ""
		s.selfID = ""
		s.logConnection("DISCONNECTED", map[string]interface{}{"reason": e.Reason})

	case AuthFailure:
		s.transition(AuthFailed)
		s.credential = ""
		s.logConnection("AUTH_FAILURE", map[string]interface{}{"reason": e.Reason})
	}
}

func (s *Session) transition(to State) {
	if s.state != to {
		s.log.WithField("from", string(s.state)).WithField("to", string(to)).Debug("Session state transition")
	}
	s.state = to
	s.lastTransition = time.Now().UTC()
	metrics.SetConnectionReady(to == Ready)
}

func (s *Session) logConnection(event string, data interface{}) {
	if s.audit != nil {
		s.audit.LogConnection(event, data)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsReady reports whether the session can execute group operations.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Ready
}

// SelfID returns the session's own transport identity, set once the
// connection is ready.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// LastTransition returns the time of the most recent state change.
func (s *Session) LastTransition() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTransition
}

// Credential returns the live pairing code. connected is true when the
// session is already Ready, in which case no credential is needed and ok is
// false.
func (s *Session) Credential() (code string, connected, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Ready {
		return "", true, false
	}
	if s.credential == "" {
		return "", false, false
	}
	return s.credential, false, true
}

// WaitCredential returns the pairing code, waiting at most `wait` once for
// the transport to issue the first one. The wait is timer-based and
// cancellable; there is no polling loop. connected is true when the session
// is already Ready.
func (s *Session) WaitCredential(ctx context.Context, wait time.Duration) (code string, connected bool, err error) {
	if code, connected, ok := s.Credential(); ok || connected {
		return code, connected, nil
	}

	if wait <= 0 {
		wait = DefaultCredentialWait
	}

	s.mu.Lock()
	issued := s.credIssued
	s.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-issued:
	case <-timer.C:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}

	// Single re-check; if the credential still has not arrived the caller
	// gets a transient failure rather than another wait.
	if code, connected, ok := s.Credential(); ok || connected {
		return code, connected, nil
	}
	return "", false, errors.CredentialUnavailable()
}

// CredentialImage renders a pairing code as a scannable PNG.
func CredentialImage(code string) ([]byte, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return nil, errors.EncodingError(err)
	}
	return png, nil
}
