// Package httpapi exposes the WhatsApp gateway's REST surface.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/coordination-labs/messaging-gateway/internal/errors"
	"github.com/coordination-labs/messaging-gateway/internal/group"
	"github.com/coordination-labs/messaging-gateway/internal/httputil"
	"github.com/coordination-labs/messaging-gateway/internal/logging"
	"github.com/coordination-labs/messaging-gateway/internal/middleware"
	"github.com/coordination-labs/messaging-gateway/internal/session"
	"github.com/coordination-labs/messaging-gateway/internal/storage"
)

var validate = validator.New()

// ConnectionView is the session surface the handlers need.
type ConnectionView interface {
	IsReady() bool
	WaitCredential(ctx context.Context, wait time.Duration) (code string, connected bool, err error)
}

// Handler bundles the gateway's HTTP endpoints.
type Handler struct {
	session        ConnectionView
	orchestrator   *group.Orchestrator
	store          storage.GroupStore
	log            *logging.Logger
	credentialWait time.Duration
}

// NewHandler constructs the endpoint bundle. store may be nil when group
// records are not persisted.
func NewHandler(sess ConnectionView, orchestrator *group.Orchestrator, store storage.GroupStore, log *logging.Logger, credentialWait time.Duration) *Handler {
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	if credentialWait <= 0 {
		credentialWait = session.DefaultCredentialWait
	}
	return &Handler{
		session:        sess,
		orchestrator:   orchestrator,
		store:          store,
		log:            log,
		credentialWait: credentialWait,
	}
}

type createGroupRequest struct {
	GroupName    string   `json:"groupName" validate:"required,min=2,max=100"`
	Participants []string `json:"participants" validate:"required,min=1"`
}

type membersRequest struct {
	Participants []string `json:"participants" validate:"required,min=1"`
}

func decodeJSON(body io.Reader, dst interface{}) error {
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(dst); err != nil {
		return errors.InvalidRequest("Invalid JSON body")
	}
	return nil
}

// QRCode returns the pairing credential as a data-URI PNG, or reports the
// session as already connected.
func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	code, connected, err := h.session.WaitCredential(r.Context(), h.credentialWait)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if connected {
		httputil.WriteSuccess(w, http.StatusOK, "WhatsApp is already connected",
			map[string]interface{}{"connected": true})
		return
	}

	png, err := session.CredentialImage(code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, "", map[string]interface{}{
		"connected":   false,
		"qrCodeImage": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	})
}

// Status reports session readiness.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	connected := h.session.IsReady()
	message := "WhatsApp is not connected"
	if connected {
		message = "WhatsApp is connected"
	}
	httputil.WriteSuccess(w, http.StatusOK, message,
		map[string]interface{}{"connected": connected})
}

// CreateGroup creates a WhatsApp group.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		httputil.WriteError(w, errors.InvalidRequest("Group name and participants array are required"))
		return
	}

	rec, err := h.orchestrator.Create(r.Context(), middleware.GetUserID(r.Context()), req.GroupName, req.Participants)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "WhatsApp group created successfully", rec)
}

// AddMembers adds participants to a group.
func (h *Handler) AddMembers(w http.ResponseWriter, r *http.Request) {
	h.changeMembers(w, r, "add")
}

// RemoveMembers removes participants from a group.
func (h *Handler) RemoveMembers(w http.ResponseWriter, r *http.Request) {
	h.changeMembers(w, r, "remove")
}

func (h *Handler) changeMembers(w http.ResponseWriter, r *http.Request, action string) {
	groupID := mux.Vars(r)["groupId"]

	var req membersRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		httputil.WriteError(w, errors.InvalidRequest("Participants array is required"))
		return
	}

	actorID := middleware.GetUserID(r.Context())

	var change group.MemberChange
	var err error
	var message, participantsKey string
	if action == "add" {
		change, err = h.orchestrator.AddMembers(r.Context(), actorID, groupID, req.Participants)
		message = "Members added to WhatsApp group successfully"
		participantsKey = "addedParticipants"
	} else {
		change, err = h.orchestrator.RemoveMembers(r.Context(), actorID, groupID, req.Participants)
		message = "Members removed from WhatsApp group successfully"
		participantsKey = "removedParticipants"
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, message, map[string]interface{}{
		"groupId":       change.GroupID,
		participantsKey: change.Participants,
		"result":        change.Result,
	})
}

// ListGroups enumerates the session's group chats.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.orchestrator.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "WhatsApp groups retrieved successfully",
		map[string]interface{}{
			"groups":      summaries,
			"totalGroups": len(summaries),
		})
}

// GroupInfo returns one group's detail.
func (h *Handler) GroupInfo(w http.ResponseWriter, r *http.Request) {
	detail, err := h.orchestrator.Info(r.Context(), mux.Vars(r)["groupId"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "Group info retrieved successfully", detail)
}

// RecordedGroups lists groups created through this gateway.
func (h *Handler) RecordedGroups(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		httputil.WriteError(w, errors.NotFound("Group records"))
		return
	}
	records, err := h.store.ListGroups(r.Context())
	if err != nil {
		httputil.WriteError(w, errors.Internal("Failed to list recorded groups", err))
		return
	}
	if records == nil {
		records = []storage.GroupRecord{}
	}
	httputil.WriteSuccess(w, http.StatusOK, "", map[string]interface{}{
		"groups":      records,
		"totalGroups": len(records),
	})
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, http.StatusOK, "ok", nil)
}
