// Package transport defines the narrow capability interface the gateway
// needs from the WhatsApp client, plus the adapter that implements it over
// whatsmeow. The orchestrator depends only on the interface so tests can
// substitute a double.
package transport

import (
	"context"
	"time"
)

// Participant is one group member as reported by the transport.
type Participant struct {
	ID           string `json:"id"`
	IsAdmin      bool   `json:"isAdmin"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
}

// Group is a transport-side group chat. Owner is empty when the transport
// does not report one.
type Group struct {
	ID           string
	Name         string
	Description  string
	Owner        string
	Participants []Participant
	CreatedAt    time.Time
}

// MemberResult is the transport's per-participant outcome of an add or
// remove. A zero Error means the change applied.
type MemberResult struct {
	ID    string `json:"id"`
	Error int    `json:"error,omitempty"`
}

// Client is the group-management capability surface. Participant arguments
// are normalized addresses ({digits}@c.us); implementations translate to
// their own wire identifiers.
type Client interface {
	CreateGroup(ctx context.Context, name string, participants []string) (Group, error)
	AddParticipants(ctx context.Context, groupID string, participants []string) ([]MemberResult, error)
	RemoveParticipants(ctx context.Context, groupID string, participants []string) ([]MemberResult, error)
	Groups(ctx context.Context) ([]Group, error)
	GroupInfo(ctx context.Context, groupID string) (Group, error)
}
