package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mathomhouse/mathom/internal/auth"
	"github.com/mathomhouse/mathom/internal/policy"
	"github.com/mathomhouse/mathom/internal/store"
)

type ProfileHandler struct {
	users  *store.UserStore
	engine *policy.Engine
	logger *slog.Logger
}

func NewProfileHandler(us *store.UserStore, engine *policy.Engine, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{users: us, engine: engine, logger: logger}
}

// Get returns the caller's own profile. The engine enforces that a
// profile is readable by its owner only, so there is no uid parameter.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid := auth.UID(r.Context())

	user, err := h.users.GetByUID(uid)
	if err != nil {
		h.logger.Error("load profile", "uid", uid, "error", err)
		writeInternal(w)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "profile not found")
		return
	}

	d := h.engine.Authorize(r.Context(), policy.Request{
		Op:         policy.OpGet,
		Collection: policy.CollectionUsers,
		DocID:      uid,
		Auth:       policyAuth(r),
		Resource:   store.UserDoc(user),
	})
	if !d.Allowed {
		writeDenied(w)
		return
	}

	writeSuccess(w, http.StatusOK, user)
}

// Update applies a partial profile update. The request body is treated as
// a field patch; the engine judges the merged future document, which is
// how email and created stay immutable and householdId transitions get
// checked.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid := auth.UID(r.Context())

	var changes map[string]any
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "invalid JSON")
		return
	}

	user, err := h.users.GetByUID(uid)
	if err != nil {
		h.logger.Error("load profile", "uid", uid, "error", err)
		writeInternal(w)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "profile not found")
		return
	}

	existing := store.UserDoc(user)
	future := mergeDoc(existing, changes)

	d := h.engine.Authorize(r.Context(), policy.Request{
		Op:         policy.OpUpdate,
		Collection: policy.CollectionUsers,
		DocID:      uid,
		Auth:       policyAuth(r),
		Data:       future,
		Resource:   existing,
	})
	if !d.Allowed {
		writeDenied(w)
		return
	}

	displayName, _ := future.String("displayName")
	var householdID *string
	if !future.IsNull("householdId") {
		if id, ok := future.String("householdId"); ok {
			householdID = &id
		}
	}

	updated, err := h.users.Update(uid, displayName, householdID)
	if err != nil {
		h.logger.Error("update profile", "uid", uid, "error", err)
		writeInternal(w)
		return
	}

	writeSuccess(w, http.StatusOK, updated)
}
