package group

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coordination-labs/messaging-gateway/internal/audit"
	"github.com/coordination-labs/messaging-gateway/internal/errors"
	"github.com/coordination-labs/messaging-gateway/internal/phone"
	"github.com/coordination-labs/messaging-gateway/internal/transport"
)

type stubGate struct {
	ready  bool
	selfID string
}

func (s *stubGate) IsReady() bool  { return s.ready }
func (s *stubGate) SelfID() string { return s.selfID }

type stubTransport struct {
	mu          sync.Mutex
	calls       int
	createdName string
	createdWith []string
	addedWith   []string
	removedWith []string

	groups  []transport.Group
	info    transport.Group
	infoErr error
	err     error

	// onUpdate runs inside AddParticipants while holding no stub locks;
	// used to observe concurrency.
	onUpdate func()
}

func (s *stubTransport) record() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *stubTransport) CreateGroup(ctx context.Context, name string, participants []string) (transport.Group, error) {
	s.record()
	if s.err != nil {
		return transport.Group{}, s.err
	}
	s.createdName = name
	s.createdWith = participants
	return transport.Group{ID: "123@g.us", Name: name}, nil
}

func (s *stubTransport) AddParticipants(ctx context.Context, groupID string, participants []string) ([]transport.MemberResult, error) {
	s.record()
	if s.onUpdate != nil {
		s.onUpdate()
	}
	if s.err != nil {
		return nil, s.err
	}
	s.addedWith = participants
	results := make([]transport.MemberResult, len(participants))
	for i, p := range participants {
		results[i] = transport.MemberResult{ID: p}
	}
	return results, nil
}

func (s *stubTransport) RemoveParticipants(ctx context.Context, groupID string, participants []string) ([]transport.MemberResult, error) {
	s.record()
	if s.err != nil {
		return nil, s.err
	}
	s.removedWith = participants
	results := make([]transport.MemberResult, len(participants))
	for i, p := range participants {
		results[i] = transport.MemberResult{ID: p}
	}
	return results, nil
}

func (s *stubTransport) Groups(ctx context.Context) ([]transport.Group, error) {
	s.record()
	if s.err != nil {
		return nil, s.err
	}
	return s.groups, nil
}

func (s *stubTransport) GroupInfo(ctx context.Context, groupID string) (transport.Group, error) {
	s.record()
	if s.infoErr != nil {
		return transport.Group{}, s.infoErr
	}
	return s.info, nil
}

func newTestOrchestrator(tc transport.Client, gate SessionGate, auditBuf *bytes.Buffer) *Orchestrator {
	var log *audit.Log
	if auditBuf != nil {
		log = audit.NewWithWriter(auditBuf, nil)
	}
	return New(tc, gate, phone.NewNormalizer("", "", nil), nil, log, nil)
}

func TestCreateRequiresReadySession(t *testing.T) {
	stub := &stubTransport{}
	o := newTestOrchestrator(stub, &stubGate{ready: false}, nil)

	_, err := o.Create(context.Background(), "u1", "team", []string{"5551234567"})
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil || serviceErr.Code != errors.CodeTransportNotReady {
		t.Fatalf("err = %v, want TRANSPORT_NOT_READY", err)
	}
	if stub.calls != 0 {
		t.Fatalf("transport invoked %d times before readiness", stub.calls)
	}
}

func TestCreateValidatesBeforeTransport(t *testing.T) {
	cases := []struct {
		name         string
		groupName    string
		participants []string
		wantCode     errors.Code
	}{
		{"empty name", "", []string{"5551234567"}, errors.CodeInvalidRequest},
		{"empty participants", "team", nil, errors.CodeInvalidRequest},
		{"invalid phone", "team", []string{"5551234567", "abc"}, errors.CodeInvalidPhoneFormat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubTransport{}
			o := newTestOrchestrator(stub, &stubGate{ready: true}, nil)

			_, err := o.Create(context.Background(), "u1", tc.groupName, tc.participants)
			serviceErr := errors.GetServiceError(err)
			if serviceErr == nil || serviceErr.Code != tc.wantCode {
				t.Fatalf("err = %v, want %s", err, tc.wantCode)
			}
			if stub.calls != 0 {
				t.Fatalf("transport invoked despite validation failure")
			}
		})
	}
}

func TestCreateSuccess(t *testing.T) {
	var buf bytes.Buffer
	stub := &stubTransport{}
	o := newTestOrchestrator(stub, &stubGate{ready: true}, &buf)

	rec, err := o.Create(context.Background(), "u1", "team", []string{"5551234567"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.GroupID != "123@g.us" || rec.GroupName != "team" {
		t.Fatalf("unexpected record: %#v", rec)
	}
	if len(rec.Participants) != 1 || rec.Participants[0] != "15551234567@c.us" {
		t.Fatalf("participants = %v", rec.Participants)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}
	if stub.createdName != "team" {
		t.Fatalf("transport saw name %q", stub.createdName)
	}

	entry := lastAuditEntry(t, &buf)
	if entry.Level != audit.LevelInfo || !strings.Contains(entry.Message, "CREATE_GROUP") || !strings.Contains(entry.Message, "SUCCESS") {
		t.Fatalf("unexpected audit entry: %#v", entry)
	}
}

func TestCreateTransportFailureAudited(t *testing.T) {
	var buf bytes.Buffer
	stub := &stubTransport{err: fmt.Errorf("server closed stream")}
	o := newTestOrchestrator(stub, &stubGate{ready: true}, &buf)

	_, err := o.Create(context.Background(), "u1", "team", []string{"5551234567"})
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil || serviceErr.Code != errors.CodeTransportOperationFailed {
		t.Fatalf("err = %v, want TRANSPORT_OPERATION_FAILED", err)
	}
	if !strings.Contains(serviceErr.Err.Error(), "server closed stream") {
		t.Fatalf("transport message not preserved: %v", serviceErr.Err)
	}

	entry := lastAuditEntry(t, &buf)
	if entry.Level != audit.LevelError || !strings.Contains(entry.Message, "User: u1") {
		t.Fatalf("unexpected audit entry: %#v", entry)
	}
	if entry.Data == nil || !strings.Contains(*entry.Data, "server closed stream") {
		t.Fatalf("audit data missing transport error: %#v", entry.Data)
	}
}

func TestAddMembersEndToEnd(t *testing.T) {
	var buf bytes.Buffer
	stub := &stubTransport{}
	o := newTestOrchestrator(stub, &stubGate{ready: true}, &buf)

	change, err := o.AddMembers(context.Background(), "u1", "g1", []string{"5551234567"})
	if err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if len(change.Participants) != 1 || change.Participants[0] != "15551234567@c.us" {
		t.Fatalf("participants = %v", change.Participants)
	}
	if len(change.Result) != 1 || change.Result[0].ID != "15551234567@c.us" {
		t.Fatalf("result = %v", change.Result)
	}

	var successes int
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var entry audit.Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("parse audit line: %v", err)
		}
		if strings.Contains(entry.Message, "ADD_MEMBERS") && strings.Contains(entry.Message, "SUCCESS") {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one ADD_MEMBERS success audit event, got %d", successes)
	}
}

func TestRemoveMembersBatchValidation(t *testing.T) {
	stub := &stubTransport{}
	o := newTestOrchestrator(stub, &stubGate{ready: true}, nil)

	_, err := o.RemoveMembers(context.Background(), "u1", "g1", []string{"5551234567", "abc"})
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil || serviceErr.Code != errors.CodeInvalidPhoneFormat {
		t.Fatalf("err = %v", err)
	}
	invalid, _ := serviceErr.Details["invalidNumbers"].([]string)
	if len(invalid) != 1 || invalid[0] != "abc" {
		t.Fatalf("invalidNumbers = %v", invalid)
	}
	if stub.calls != 0 {
		t.Fatal("transport invoked despite rejected batch")
	}
}

func TestConcurrentMutationsOnSameGroupSerialize(t *testing.T) {
	var inFlight, maxInFlight int
	var mu sync.Mutex

	stub := &stubTransport{}
	stub.onUpdate = func() {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}
	o := newTestOrchestrator(stub, &stubGate{ready: true}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.AddMembers(context.Background(), "u1", "g1", []string{"5551234567"}); err != nil {
				t.Errorf("AddMembers: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("mutations on one group overlapped: max in-flight %d", maxInFlight)
	}
}

func TestListComputesOwnership(t *testing.T) {
	created := time.Date(2025, 7, 7, 0, 0, 0, 0, time.UTC)
	stub := &stubTransport{groups: []transport.Group{
		{
			ID: "g1@g.us", Name: "mine", Owner: "15550001111@c.us",
			Participants: []transport.Participant{{ID: "a"}, {ID: "b"}},
			CreatedAt:    created,
		},
		{ID: "g2@g.us", Name: "theirs", Owner: "15559998888@c.us"},
		{ID: "g3@g.us", Name: "ownerless"},
	}}
	o := newTestOrchestrator(stub, &stubGate{ready: true, selfID: "15550001111@c.us"}, nil)

	summaries, err := o.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("got %d summaries", len(summaries))
	}
	if !summaries[0].IsOwner || summaries[0].ParticipantCount != 2 || !summaries[0].CreatedAt.Equal(created) {
		t.Fatalf("unexpected first summary: %#v", summaries[0])
	}
	if summaries[1].IsOwner {
		t.Fatal("non-owned group reported as owned")
	}
	// No owner reported by the transport means not owned.
	if summaries[2].IsOwner {
		t.Fatal("ownerless group reported as owned")
	}
}

func TestInfoNotAGroup(t *testing.T) {
	stub := &stubTransport{infoErr: errors.NotAGroup("15551234567@c.us")}
	o := newTestOrchestrator(stub, &stubGate{ready: true}, nil)

	_, err := o.Info(context.Background(), "15551234567@c.us")
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil || serviceErr.Code != errors.CodeNotAGroup {
		t.Fatalf("err = %v, want NOT_A_GROUP", err)
	}
}

func TestInfoProjection(t *testing.T) {
	stub := &stubTransport{info: transport.Group{
		ID:    "g1@g.us",
		Name:  "team",
		Owner: "15550001111@c.us",
		Participants: []transport.Participant{
			{ID: "15550001111@c.us", IsAdmin: true, IsSuperAdmin: true},
			{ID: "15551234567@c.us"},
		},
	}}
	o := newTestOrchestrator(stub, &stubGate{ready: true, selfID: "15550001111@c.us"}, nil)

	detail, err := o.Info(context.Background(), "g1@g.us")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if detail.ParticipantCount != 2 || !detail.IsOwner {
		t.Fatalf("unexpected detail: %#v", detail)
	}
	if !detail.Participants[0].IsSuperAdmin || detail.Participants[1].IsAdmin {
		t.Fatalf("participant flags wrong: %#v", detail.Participants)
	}
}

func lastAuditEntry(t *testing.T, buf *bytes.Buffer) audit.Entry {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry audit.Entry
	if err := json.Unmarshal(lines[len(lines)-1], &entry); err != nil {
		t.Fatalf("parse audit line: %v", err)
	}
	return entry
}
