// Package group validates and executes WhatsApp group operations against the
// transport, gated on session readiness.
package group

import (
	"context"
	"sync"
	"time"

	"github.com/coordination-labs/messaging-gateway/internal/audit"
	"github.com/coordination-labs/messaging-gateway/internal/errors"
	"github.com/coordination-labs/messaging-gateway/internal/logging"
	"github.com/coordination-labs/messaging-gateway/internal/metrics"
	"github.com/coordination-labs/messaging-gateway/internal/phone"
	"github.com/coordination-labs/messaging-gateway/internal/storage"
	"github.com/coordination-labs/messaging-gateway/internal/transport"
)

// SessionGate is the readiness view of the connection session.
type SessionGate interface {
	IsReady() bool
	SelfID() string
}

// Record describes a freshly created group.
type Record struct {
	GroupID      string    `json:"groupId"`
	GroupName    string    `json:"groupName"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Summary is one row in the group listing.
type Summary struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	ParticipantCount int       `json:"participantCount"`
	CreatedAt        time.Time `json:"createdAt"`
	IsOwner          bool      `json:"isOwner"`
}

// Detail is the full view of one group.
type Detail struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name"`
	Description      string                  `json:"description"`
	Participants     []transport.Participant `json:"participants"`
	ParticipantCount int                     `json:"participantCount"`
	CreatedAt        time.Time               `json:"createdAt"`
	IsOwner          bool                    `json:"isOwner"`
}

// MemberChange echoes a membership mutation: the normalized list that was
// sent plus the transport's verbatim per-participant result.
type MemberChange struct {
	GroupID      string                   `json:"groupId"`
	Participants []string                 `json:"-"`
	Result       []transport.MemberResult `json:"result"`
}

// Orchestrator executes group operations. Mutations against the same group
// are serialized by a per-group lock; operations against distinct groups run
// concurrently.
type Orchestrator struct {
	transport transport.Client
	session   SessionGate
	phones    *phone.Normalizer
	store     storage.GroupStore
	audit     *audit.Log
	log       *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs an orchestrator. store may be nil when created groups are
// not recorded.
func New(tc transport.Client, sess SessionGate, phones *phone.Normalizer, store storage.GroupStore, auditLog *audit.Log, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.NewDefault("group")
	}
	return &Orchestrator{
		transport: tc,
		session:   sess,
		phones:    phones,
		store:     store,
		audit:     auditLog,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) requireReady() error {
	if !o.session.IsReady() {
		return errors.TransportNotReady()
	}
	return nil
}

// lockGroup returns the mutex serializing mutations for one group.
func (o *Orchestrator) lockGroup(groupID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[groupID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[groupID] = lock
	}
	return lock
}

func (o *Orchestrator) auditFailure(operation, groupID, actorID string, err error) {
	if o.audit != nil {
		o.audit.LogGroupOperation(operation, groupID, actorID, "ERROR",
			map[string]interface{}{"error": err.Error()})
	}
	metrics.RecordGroupOperation(operation, "error")
}

func (o *Orchestrator) auditSuccess(operation, groupID, actorID string, data interface{}) {
	if o.audit != nil {
		o.audit.LogGroupOperation(operation, groupID, actorID, "SUCCESS", data)
	}
	metrics.RecordGroupOperation(operation, "success")
}

// Create validates inputs, creates the group on the transport, records it,
// and returns its descriptor.
func (o *Orchestrator) Create(ctx context.Context, actorID, name string, participants []string) (Record, error) {
	if err := o.requireReady(); err != nil {
		return Record{}, err
	}
	if name == "" {
		return Record{}, errors.InvalidRequest("Group name and participants array are required")
	}
	if len(participants) == 0 {
		return Record{}, errors.InvalidRequest("At least one participant is required")
	}

	normalized, err := o.phones.NormalizeAll(participants)
	if err != nil {
		return Record{}, err
	}

	created, err := o.transport.CreateGroup(ctx, name, normalized)
	if err != nil {
		o.auditFailure("CREATE_GROUP", "UNKNOWN", actorID, err)
		return Record{}, errors.TransportOperationFailed("create WhatsApp group", err)
	}

	rec := Record{
		GroupID:      created.ID,
		GroupName:    name,
		Participants: normalized,
		CreatedAt:    time.Now().UTC(),
	}
	o.auditSuccess("CREATE_GROUP", created.ID, actorID, rec)

	if o.store != nil {
		storeErr := o.store.RecordGroup(ctx, storage.GroupRecord{
			ID:               created.ID,
			Name:             name,
			ParticipantCount: len(normalized),
			CreatedBy:        actorID,
			CreatedAt:        rec.CreatedAt,
		})
		if storeErr != nil {
			// Recording is best-effort; the group exists on the transport.
			o.log.WithError(storeErr).WithField("group_id", created.ID).Warn("Failed to record created group")
		}
	}
	return rec, nil
}

// AddMembers adds normalized participants to a group and returns the
// transport's per-participant result verbatim. Not idempotent: re-adding an
// existing member surfaces whatever the transport reports.
func (o *Orchestrator) AddMembers(ctx context.Context, actorID, groupID string, participants []string) (MemberChange, error) {
	return o.changeMembers(ctx, "ADD_MEMBERS", actorID, groupID, participants, o.transport.AddParticipants)
}

// RemoveMembers removes normalized participants from a group.
func (o *Orchestrator) RemoveMembers(ctx context.Context, actorID, groupID string, participants []string) (MemberChange, error) {
	return o.changeMembers(ctx, "REMOVE_MEMBERS", actorID, groupID, participants, o.transport.RemoveParticipants)
}

func (o *Orchestrator) changeMembers(
	ctx context.Context,
	operation, actorID, groupID string,
	participants []string,
	apply func(ctx context.Context, groupID string, participants []string) ([]transport.MemberResult, error),
) (MemberChange, error) {
	if err := o.requireReady(); err != nil {
		return MemberChange{}, err
	}
	if len(participants) == 0 {
		return MemberChange{}, errors.InvalidRequest("At least one participant is required")
	}

	normalized, err := o.phones.NormalizeAll(participants)
	if err != nil {
		return MemberChange{}, err
	}

	lock := o.lockGroup(groupID)
	lock.Lock()
	defer lock.Unlock()

	result, err := apply(ctx, groupID, normalized)
	if err != nil {
		if serviceErr := errors.GetServiceError(err); serviceErr != nil {
			o.auditFailure(operation, groupID, actorID, err)
			return MemberChange{}, serviceErr
		}
		o.auditFailure(operation, groupID, actorID, err)
		return MemberChange{}, errors.TransportOperationFailed("update WhatsApp group members", err)
	}

	o.auditSuccess(operation, groupID, actorID, map[string]interface{}{
		"participants": normalized,
	})
	return MemberChange{GroupID: groupID, Participants: normalized, Result: result}, nil
}

// List enumerates the session's group chats.
func (o *Orchestrator) List(ctx context.Context) ([]Summary, error) {
	if err := o.requireReady(); err != nil {
		return nil, err
	}

	groups, err := o.transport.Groups(ctx)
	if err != nil {
		o.auditFailure("LIST_GROUPS", "ALL", o.session.SelfID(), err)
		return nil, errors.TransportOperationFailed("get WhatsApp groups", err)
	}

	selfID := o.session.SelfID()
	summaries := make([]Summary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, Summary{
			ID:               g.ID,
			Name:             g.Name,
			Description:      g.Description,
			ParticipantCount: len(g.Participants),
			CreatedAt:        g.CreatedAt,
			IsOwner:          g.Owner != "" && g.Owner == selfID,
		})
	}
	return summaries, nil
}

// Info fetches one group's detail. Fails with NotAGroup when the id resolves
// to a chat that is not a group.
func (o *Orchestrator) Info(ctx context.Context, groupID string) (Detail, error) {
	if err := o.requireReady(); err != nil {
		return Detail{}, err
	}

	g, err := o.transport.GroupInfo(ctx, groupID)
	if err != nil {
		if serviceErr := errors.GetServiceError(err); serviceErr != nil {
			o.auditFailure("GROUP_INFO", groupID, o.session.SelfID(), err)
			return Detail{}, serviceErr
		}
		o.auditFailure("GROUP_INFO", groupID, o.session.SelfID(), err)
		return Detail{}, errors.TransportOperationFailed("get group info", err)
	}

	participants := g.Participants
	if participants == nil {
		participants = []transport.Participant{}
	}
	return Detail{
		ID:               g.ID,
		Name:             g.Name,
		Description:      g.Description,
		Participants:     participants,
		ParticipantCount: len(participants),
		CreatedAt:        g.CreatedAt,
		IsOwner:          g.Owner != "" && g.Owner == o.session.SelfID(),
	}, nil
}
