package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mathomhouse/mathom/internal/auth"
	"github.com/mathomhouse/mathom/internal/policy"
	"github.com/mathomhouse/mathom/internal/store"
	"github.com/mathomhouse/mathom/internal/websocket"
)

type HouseholdHandler struct {
	households *store.HouseholdStore
	users      *store.UserStore
	engine     *policy.Engine
	hub        *websocket.Hub
	logger     *slog.Logger
}

func NewHouseholdHandler(hs *store.HouseholdStore, us *store.UserStore, engine *policy.Engine, hub *websocket.Hub, logger *slog.Logger) *HouseholdHandler {
	return &HouseholdHandler{
		households: hs,
		users:      us,
		engine:     engine,
		hub:        hub,
		logger:     logger,
	}
}

func (h *HouseholdHandler) broadcast(householdID string, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(householdID, msg)
	}
}

type householdRequest struct {
	Name string `json:"name"`
}

// Create founds a new household with the caller as owner and sole member,
// then points the caller's profile at it. These are two separately
// authorized writes, not a transaction: a failure after the first leaves
// a household whose owner profile does not reference it yet, which the
// owner can repair by retrying the profile update.
func (h *HouseholdHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid := auth.UID(r.Context())

	var req householdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "name is required")
		return
	}

	newDoc := policy.Doc{
		"name":          req.Name,
		"ownerUserId":   uid,
		"memberUserIds": []string{uid},
	}
	d := h.engine.Authorize(r.Context(), policy.Request{
		Op:         policy.OpCreate,
		Collection: policy.CollectionHouseholds,
		Auth:       policyAuth(r),
		Data:       newDoc,
	})
	if !d.Allowed {
		writeDenied(w)
		return
	}

	household, err := h.households.Create(req.Name, uid)
	if err != nil {
		h.logger.Error("create household", "error", err)
		writeInternal(w)
		return
	}

	// Second write: the owner's own profile adopts the new household.
	user, err := h.users.GetByUID(uid)
	if err != nil || user == nil {
		h.logger.Error("load owner profile", "uid", uid, "error", err)
		writeSuccess(w, http.StatusCreated, household)
		return
	}
	existing := store.UserDoc(user)
	future := mergeDoc(existing, map[string]any{"householdId": household.ID})
	d = h.engine.Authorize(r.Context(), policy.Request{
		Op:         policy.OpUpdate,
		Collection: policy.CollectionUsers,
		DocID:      uid,
		Auth:       policyAuth(r),
		Data:       future,
		Resource:   existing,
	})
	if d.Allowed {
		if _, err := h.users.Update(uid, user.DisplayName, &household.ID); err != nil {
			h.logger.Error("set owner household", "uid", uid, "error", err)
		}
	}

	writeSuccess(w, http.StatusCreated, household)
}

// Get returns a household to its members.
func (h *HouseholdHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	household, err := h.households.GetByID(id)
	if err != nil {
		h.logger.Error("load household", "id", id, "error", err)
		writeInternal(w)
		return
	}
	if household == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "household not found")
		return
	}

	d := h.engine.Authorize(r.Context(), policy.Request{
		Op:         policy.OpGet,
		Collection: policy.CollectionHouseholds,
		DocID:      id,
		Auth:       policyAuth(r),
		Resource:   store.HouseholdDoc(household),
	})
	if !d.Allowed {
		writeDenied(w)
		return
	}

	writeSuccess(w, http.StatusOK, household)
}

// Update renames a household. Ownership and membership are immutable
// through this path; the engine rejects anything beyond the name.
func (h *HouseholdHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var changes map[string]any
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "invalid JSON")
		return
	}

	household, err := h.households.GetByID(id)
	if err != nil {
		h.logger.Error("load household", "id", id, "error", err)
		writeInternal(w)
		return
	}
	if household == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "household not found")
		return
	}

	existing := store.HouseholdDoc(household)
	future := mergeDoc(existing, changes)

	d := h.engine.Authorize(r.Context(), policy.Request{
		Op:         policy.OpUpdate,
		Collection: policy.CollectionHouseholds,
		DocID:      id,
		Auth:       policyAuth(r),
		Data:       future,
		Resource:   existing,
	})
	if !d.Allowed {
		writeDenied(w)
		return
	}

	name, ok := future.String("name")
	if !ok || strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "name is required")
		return
	}

	updated, err := h.households.UpdateName(id, name)
	if err != nil {
		h.logger.Error("update household", "id", id, "error", err)
		writeInternal(w)
		return
	}

	h.broadcast(id, websocket.NewMessage(policy.CollectionHouseholds, "updated", id, store.HouseholdDoc(updated)))
	writeSuccess(w, http.StatusOK, updated)
}

type addMemberRequest struct {
	UserID string `json:"userId"`
}

// AddMember grows a household's membership. No policy rule grants this to
// client writes; it is the trusted server path, gated on the caller being
// the household owner and the joining user not belonging to a household
// yet.
func (h *HouseholdHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	uid := auth.UID(r.Context())
	id := r.PathValue("id")

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "invalid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "userId is required")
		return
	}

	household, err := h.households.GetByID(id)
	if err != nil {
		h.logger.Error("load household", "id", id, "error", err)
		writeInternal(w)
		return
	}
	if household == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "household not found")
		return
	}
	if household.OwnerUserID != uid {
		writeDenied(w)
		return
	}

	joining, err := h.users.GetByUID(req.UserID)
	if err != nil {
		h.logger.Error("load joining user", "uid", req.UserID, "error", err)
		writeInternal(w)
		return
	}
	if joining == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "user not found")
		return
	}
	if joining.HouseholdID != nil {
		writeError(w, http.StatusConflict, CodePermissionDenied, "user already belongs to a household")
		return
	}

	if err := h.households.AddMember(id, req.UserID); err != nil {
		h.logger.Error("add member", "household", id, "uid", req.UserID, "error", err)
		writeInternal(w)
		return
	}

	updated, err := h.households.GetByID(id)
	if err != nil || updated == nil {
		h.logger.Error("reload household", "id", id, "error", err)
		writeInternal(w)
		return
	}

	h.broadcast(id, websocket.NewMessage(policy.CollectionHouseholds, "updated", id, store.HouseholdDoc(updated)))
	writeSuccess(w, http.StatusOK, updated)
}
