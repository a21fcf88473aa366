package transport

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"

	"github.com/coordination-labs/messaging-gateway/internal/errors"
	"github.com/coordination-labs/messaging-gateway/internal/logging"
	"github.com/coordination-labs/messaging-gateway/internal/session"
)

const contactSuffix = "c.us"

// WhatsmeowClient adapts a whatsmeow client to the Client interface and
// drives the session state machine from transport events. Outbound calls are
// paced by a token-bucket limiter so bursts of group operations do not trip
// the network's abuse detection.
type WhatsmeowClient struct {
	client  *whatsmeow.Client
	session *session.Session
	log     *logging.Logger
	limiter *rate.Limiter
}

var _ Client = (*WhatsmeowClient)(nil)

// NewWhatsmeow opens (or creates) the persisted device session in Postgres
// and builds the adapter. The connection itself is established by Start.
func NewWhatsmeow(ctx context.Context, dsn string, sess *session.Session, log *logging.Logger) (*WhatsmeowClient, error) {
	if log == nil {
		log = logging.NewDefault("transport")
	}

	container, err := sqlstore.New(ctx, "postgres", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	c := &WhatsmeowClient{
		client:  whatsmeow.NewClient(device, waLog.Noop),
		session: sess,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(1), 3),
	}
	c.client.AddEventHandler(c.handleEvent)
	return c, nil
}

// Start connects to the network. When the device is not yet paired it also
// pumps pairing codes from the QR channel into the session.
func (c *WhatsmeowClient) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("open QR channel: %w", err)
		}
		go c.pumpQR(qrChan)
	}

	if err := c.client.Connect(); err != nil {
		c.session.Dispatch(session.AuthFailure{Reason: err.Error()})
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Stop disconnects from the network.
func (c *WhatsmeowClient) Stop() {
	c.client.Disconnect()
}

func (c *WhatsmeowClient) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.session.Dispatch(session.PairingIssued{Code: item.Code})
		case "success":
			// PairSuccess from the event handler covers this; nothing to do.
		case "timeout":
			c.session.Dispatch(session.AuthFailure{Reason: "pairing timed out"})
		default:
			c.session.Dispatch(session.AuthFailure{Reason: item.Event})
		}
	}
}

func (c *WhatsmeowClient) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		c.session.Dispatch(session.AuthSucceeded{})
	case *events.Connected:
		selfID := ""
		if id := c.client.Store.ID; id != nil {
			selfID = jidToAddress(*id)
		}
		c.session.Dispatch(session.ConnectionReady{SelfID: selfID})
	case *events.LoggedOut:
		c.session.Dispatch(session.ConnectionLost{Reason: fmt.Sprintf("logged out: %v", e.Reason)})
	case *events.Disconnected:
		c.session.Dispatch(session.ConnectionLost{Reason: "connection closed"})
	}
}

// addressToJID converts a normalized {digits}@c.us address to the network's
// user JID form.
func addressToJID(address string) types.JID {
	user := address
	if i := strings.IndexByte(address, '@'); i >= 0 {
		user = address[:i]
	}
	return types.NewJID(user, types.DefaultUserServer)
}

// jidToAddress renders a user JID in the gateway's canonical contact form.
func jidToAddress(jid types.JID) string {
	return jid.User + "@" + contactSuffix
}

func addressesToJIDs(addresses []string) []types.JID {
	jids := make([]types.JID, 0, len(addresses))
	for _, address := range addresses {
		jids = append(jids, addressToJID(address))
	}
	return jids
}

func parseGroupJID(groupID string) (types.JID, error) {
	if strings.ContainsRune(groupID, '@') {
		jid, err := types.ParseJID(groupID)
		if err != nil {
			return types.EmptyJID, errors.NotFound("Group")
		}
		if jid.Server != types.GroupServer {
			return types.EmptyJID, errors.NotAGroup(groupID)
		}
		return jid, nil
	}
	return types.NewJID(groupID, types.GroupServer), nil
}

func groupFromInfo(info *types.GroupInfo) Group {
	g := Group{
		ID:          info.JID.String(),
		Name:        info.GroupName.Name,
		Description: info.GroupTopic.Topic,
		CreatedAt:   info.GroupCreated,
	}
	if !info.OwnerJID.IsEmpty() {
		g.Owner = jidToAddress(info.OwnerJID)
	}
	for _, p := range info.Participants {
		g.Participants = append(g.Participants, Participant{
			ID:           jidToAddress(p.JID),
			IsAdmin:      p.IsAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
		})
	}
	return g
}

func memberResults(participants []types.GroupParticipant) []MemberResult {
	results := make([]MemberResult, 0, len(participants))
	for _, p := range participants {
		results = append(results, MemberResult{ID: jidToAddress(p.JID), Error: p.Error})
	}
	return results
}

func (c *WhatsmeowClient) CreateGroup(ctx context.Context, name string, participants []string) (Group, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Group{}, err
	}
	info, err := c.client.CreateGroup(ctx, whatsmeow.ReqCreateGroup{
		Name:         name,
		Participants: addressesToJIDs(participants),
	})
	if err != nil {
		return Group{}, err
	}
	return groupFromInfo(info), nil
}

func (c *WhatsmeowClient) AddParticipants(ctx context.Context, groupID string, participants []string) ([]MemberResult, error) {
	return c.updateParticipants(ctx, groupID, participants, whatsmeow.ParticipantChangeAdd)
}

func (c *WhatsmeowClient) RemoveParticipants(ctx context.Context, groupID string, participants []string) ([]MemberResult, error) {
	return c.updateParticipants(ctx, groupID, participants, whatsmeow.ParticipantChangeRemove)
}

func (c *WhatsmeowClient) updateParticipants(ctx context.Context, groupID string, participants []string, change whatsmeow.ParticipantChange) ([]MemberResult, error) {
	jid, err := parseGroupJID(groupID)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	updated, err := c.client.UpdateGroupParticipants(ctx, jid, addressesToJIDs(participants), change)
	if err != nil {
		return nil, err
	}
	return memberResults(updated), nil
}

func (c *WhatsmeowClient) Groups(ctx context.Context) ([]Group, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	infos, err := c.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]Group, 0, len(infos))
	for _, info := range infos {
		groups = append(groups, groupFromInfo(info))
	}
	return groups, nil
}

func (c *WhatsmeowClient) GroupInfo(ctx context.Context, groupID string) (Group, error) {
	jid, err := parseGroupJID(groupID)
	if err != nil {
		return Group{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Group{}, err
	}
	info, err := c.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return Group{}, err
	}
	return groupFromInfo(info), nil
}
