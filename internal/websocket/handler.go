package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/mathomhouse/mathom/internal/auth"
	"github.com/mathomhouse/mathom/internal/policy"
	"github.com/mathomhouse/mathom/internal/store"
)

// Gauge tracks the connected client count. prometheus.Gauge satisfies it.
type Gauge interface {
	Inc()
	Dec()
}

type noopGauge struct{}

func (noopGauge) Inc() {}
func (noopGauge) Dec() {}

// Handler upgrades authorized requests on /ws/households/{id} to WebSocket
// connections joined to that household's room. The caller must pass the
// same read check the HTTP household endpoint enforces before the upgrade
// happens, so a socket is never opened into a room the caller cannot read.
type Handler struct {
	hub        *Hub
	engine     *policy.Engine
	households *store.HouseholdStore
	items      *store.ItemStore
	logger     *slog.Logger
	clients    Gauge
}

// NewHandler creates a Handler. gauge may be nil.
func NewHandler(hub *Hub, engine *policy.Engine, households *store.HouseholdStore, items *store.ItemStore, logger *slog.Logger, gauge Gauge) *Handler {
	if gauge == nil {
		gauge = noopGauge{}
	}
	return &Handler{
		hub:        hub,
		engine:     engine,
		households: households,
		items:      items,
		logger:     logger,
		clients:    gauge,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	householdID := r.PathValue("id")
	hh, err := h.households.GetByID(householdID)
	if err != nil {
		h.logger.Error("load household", "id", householdID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if hh == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	d := h.engine.Authorize(r.Context(), policy.Request{
		Op:         policy.OpGet,
		Collection: policy.CollectionHouseholds,
		DocID:      householdID,
		Auth:       &policy.Auth{UID: ac.UID, Email: ac.Email},
		Resource:   store.HouseholdDoc(hh),
	})
	if !d.Allowed {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // Allow connections from any origin (household LAN)
	})
	if err != nil {
		h.logger.Error("websocket accept", "error", err)
		return
	}

	client := NewClient(h.hub, conn, householdID)
	h.clients.Inc()
	defer h.clients.Dec()

	if err := h.sendSnapshot(r.Context(), client, ac, householdID); err != nil {
		h.logger.Error("send snapshot", "household", householdID, "error", err)
		conn.Close(ws.StatusInternalError, "snapshot failed")
		return
	}

	client.Run(r.Context())
}

// sendSnapshot pushes the household's current items to a freshly joined
// client, filtered through the per-document read rule so private items
// belonging to other members are never sent.
func (h *Handler) sendSnapshot(ctx context.Context, c *Client, ac auth.AuthContext, householdID string) error {
	items, err := h.items.ListByHousehold(householdID)
	if err != nil {
		return err
	}

	visible := make([]map[string]any, 0, len(items))
	for i := range items {
		doc := store.ItemDoc(&items[i])
		d := h.engine.Authorize(ctx, policy.Request{
			Op:         policy.OpList,
			Collection: policy.CollectionItems,
			DocID:      items[i].ID,
			Auth:       &policy.Auth{UID: ac.UID, Email: ac.Email},
			Resource:   doc,
		})
		if d.Allowed {
			doc["id"] = items[i].ID
			visible = append(visible, doc)
		}
	}

	data, err := json.Marshal(SnapshotMessage(policy.CollectionItems, visible))
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, ws.MessageText, data)
}
