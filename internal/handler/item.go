package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mathomhouse/mathom/internal/auth"
	"github.com/mathomhouse/mathom/internal/model"
	"github.com/mathomhouse/mathom/internal/policy"
	"github.com/mathomhouse/mathom/internal/store"
	"github.com/mathomhouse/mathom/internal/websocket"
)

type ItemHandler struct {
	items  *store.ItemStore
	users  *store.UserStore
	engine *policy.Engine
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewItemHandler(is *store.ItemStore, us *store.UserStore, engine *policy.Engine, hub *websocket.Hub, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{
		items:  is,
		users:  us,
		engine: engine,
		hub:    hub,
		logger: logger,
	}
}

func (h *ItemHandler) broadcast(householdID string, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(householdID, msg)
	}
}

type itemRequest struct {
	Name      string              `json:"name"`
	Location  string              `json:"location"`
	Status    string              `json:"status"`
	IsPrivate *bool               `json:"isPrivate"`
	Metadata  *model.ItemMetadata `json:"metadata"`
}

// Create adds an item to the caller's household inventory.
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid := auth.UID(r.Context())

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "name is required")
		return
	}
	if req.Status == "" {
		req.Status = model.StatusStored
	}
	if req.Status != model.StatusStored && req.Status != model.StatusOut {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "status must be STORED or OUT")
		return
	}
	isPrivate := false
	if req.IsPrivate != nil {
		isPrivate = *req.IsPrivate
	}
	meta := model.ItemMetadata{}
	if req.Metadata != nil {
		meta = *req.Metadata
	}

	user, err := h.users.GetByUID(uid)
	if err != nil || user == nil {
		h.logger.Error("load profile", "uid", uid, "error", err)
		writeInternal(w)
		return
	}
	if user.HouseholdID == nil {
		writeDenied(w)
		return
	}

	newDoc := policy.Doc{
		"name":          req.Name,
		"location":      req.Location,
		"status":        req.Status,
		"creatorUserId": uid,
		"householdId":   *user.HouseholdID,
		"isPrivate":     isPrivate,
	}
	d := h.engine.Authorize(r.Context(), policy.Request{
		Op:         policy.OpCreate,
		Collection: policy.CollectionItems,
		Auth:       policyAuth(r),
		Data:       newDoc,
	})
	if !d.Allowed {
		writeDenied(w)
		return
	}

	item, err := h.items.Create(req.Name, req.Location, req.Status, uid, *user.HouseholdID, isPrivate, meta)
	if err != nil {
		h.logger.Error("create item", "error", err)
		writeInternal(w)
		return
	}

	h.broadcastItem("created", item)
	writeSuccess(w, http.StatusCreated, item)
}

// broadcastItem notifies the household room about an item change. Private
// items are announced by id only so non-creators never see their content.
func (h *ItemHandler) broadcastItem(action string, item *model.Item) {
	var doc map[string]any
	if !item.IsPrivate {
		doc = store.ItemDoc(item)
	}
	h.broadcast(item.HouseholdID, websocket.NewMessage(policy.CollectionItems, action, item.ID, doc))
}

// List returns every item the caller is allowed to see: household items
// pass through the per-document read rule, and the caller's own creations
// are always included.
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	uid := auth.UID(r.Context())

	user, err := h.users.GetByUID(uid)
	if err != nil || user == nil {
		h.logger.Error("load profile", "uid", uid, "error", err)
		writeInternal(w)
		return
	}

	seen := make(map[string]struct{})
	var candidates []model.Item

	if user.HouseholdID != nil {
		household, err := h.items.ListByHousehold(*user.HouseholdID)
		if err != nil {
			h.logger.Error("list household items", "error", err)
			writeInternal(w)
			return
		}
		for _, it := range household {
			seen[it.ID] = struct{}{}
			candidates = append(candidates, it)
		}
	}

	own, err := h.items.ListByCreator(uid)
	if err != nil {
		h.logger.Error("list own items", "error", err)
		writeInternal(w)
		return
	}
	for _, it := range own {
		if _, ok := seen[it.ID]; !ok {
			candidates = append(candidates, it)
		}
	}

	visible := make([]model.Item, 0, len(candidates))
	for i := range candidates {
		d := h.engine.Authorize(r.Context(), policy.Request{
			Op:         policy.OpList,
			Collection: policy.CollectionItems,
			DocID:      candidates[i].ID,
			Auth:       policyAuth(r),
			Resource:   store.ItemDoc(&candidates[i]),
		})
		if d.Allowed {
			visible = append(visible, candidates[i])
		}
	}

	writeSuccess(w, http.StatusOK, visible)
}

// Get returns one item if the caller may read it. Denied reads report
// not-found so the response does not leak whether the item exists.
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.readableItem(w, r)
	if !ok {
		return
	}
	writeSuccess(w, http.StatusOK, item)
}

// Update applies a partial item change. The engine judges the merged
// future document, keeping creator and household immutable.
func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var changes map[string]any
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "invalid JSON")
		return
	}

	item, err := h.items.GetByID(id)
	if err != nil {
		h.logger.Error("load item", "id", id, "error", err)
		writeInternal(w)
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "item not found")
		return
	}

	existing := store.ItemDoc(item)
	future := mergeDoc(existing, changes)

	d := h.engine.Authorize(r.Context(), policy.Request{
		Op:         policy.OpUpdate,
		Collection: policy.CollectionItems,
		DocID:      id,
		Auth:       policyAuth(r),
		Data:       future,
		Resource:   existing,
	})
	if !d.Allowed {
		writeError(w, http.StatusNotFound, CodeNotFound, "item not found")
		return
	}

	name, _ := future.String("name")
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "name is required")
		return
	}
	location, _ := future.String("location")
	status, _ := future.String("status")
	if status != model.StatusStored && status != model.StatusOut {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "status must be STORED or OUT")
		return
	}
	isPrivate, ok := future.Bool("isPrivate")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "isPrivate must be a boolean")
		return
	}

	meta := item.Metadata
	if raw, ok := changes["metadata"]; ok {
		meta = model.ItemMetadata{}
		if m, ok := raw.(map[string]any); ok {
			if c, ok := m["category"].(string); ok {
				meta.Category = c
			}
			if n, ok := m["notes"].(string); ok {
				meta.Notes = n
			}
		}
	}

	updated, err := h.items.Update(id, name, location, status, isPrivate, meta)
	if err != nil {
		h.logger.Error("update item", "id", id, "error", err)
		writeInternal(w)
		return
	}

	h.broadcastItem("updated", updated)
	writeSuccess(w, http.StatusOK, updated)
}

// Delete removes an item. Deletion requires the same visibility as
// reading, so members cannot delete other members' private items.
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	item, ok := h.readableItem(w, r)
	if !ok {
		return
	}

	if err := h.items.Delete(item.ID); err != nil {
		h.logger.Error("delete item", "id", item.ID, "error", err)
		writeInternal(w)
		return
	}

	h.broadcast(item.HouseholdID, websocket.NewMessage(policy.CollectionItems, "deleted", item.ID, nil))
	writeSuccess(w, http.StatusOK, nil)
}

// readableItem loads the item in the path and authorizes the caller to
// read it, writing the error response itself when that fails. Missing and
// unreadable items are indistinguishable to the caller.
func (h *ItemHandler) readableItem(w http.ResponseWriter, r *http.Request) (*model.Item, bool) {
	id := r.PathValue("id")

	item, err := h.items.GetByID(id)
	if err != nil {
		h.logger.Error("load item", "id", id, "error", err)
		writeInternal(w)
		return nil, false
	}
	if item == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "item not found")
		return nil, false
	}

	op := policy.OpGet
	if r.Method == http.MethodDelete {
		op = policy.OpDelete
	}
	d := h.engine.Authorize(r.Context(), policy.Request{
		Op:         op,
		Collection: policy.CollectionItems,
		DocID:      id,
		Auth:       policyAuth(r),
		Resource:   store.ItemDoc(item),
	})
	if !d.Allowed {
		writeError(w, http.StatusNotFound, CodeNotFound, "item not found")
		return nil, false
	}
	return item, true
}
