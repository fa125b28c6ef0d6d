package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/mathomhouse/mathom/internal/websocket"
)

// HouseholdState is the watcher's published view of the subscribed
// household's inventory. Docs is keyed by item id. Err holds the last
// connection failure; the watcher keeps reconnecting regardless.
type HouseholdState struct {
	HouseholdID string
	Docs        map[string]map[string]any
	Connected   bool
	Err         error
}

// HouseholdWatcher maintains at most one live subscription to a
// household's change feed. Re-keying to another household (or to none)
// always tears the current subscription down first, so updates for the
// old household can never bleed into the new state.
type HouseholdWatcher struct {
	api    *Client
	logger *slog.Logger

	mu          sync.Mutex
	householdID string
	cancel      context.CancelFunc
	loopDone    chan struct{}
	state       HouseholdState
	subs        map[uint64]func(HouseholdState)
	nextSub     uint64
}

// NewHouseholdWatcher creates a watcher with no subscription.
func NewHouseholdWatcher(api *Client, logger *slog.Logger) *HouseholdWatcher {
	return &HouseholdWatcher{
		api:    api,
		logger: logger,
		subs:   make(map[uint64]func(HouseholdState)),
	}
}

// State returns a snapshot of the current state.
func (w *HouseholdWatcher) State() HouseholdState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Subscribe registers fn for every state change, starting with the
// current state. The returned function unsubscribes.
func (w *HouseholdWatcher) Subscribe(fn func(HouseholdState)) func() {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	st := w.state
	w.mu.Unlock()

	fn(st)
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

func (w *HouseholdWatcher) setState(mutate func(*HouseholdState)) {
	w.mu.Lock()
	mutate(&w.state)
	st := w.state
	fns := make([]func(HouseholdState), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// SetHousehold re-keys the subscription. The running subscription, if
// any, is stopped and drained before the new one starts. An empty id
// just clears the state.
func (w *HouseholdWatcher) SetHousehold(ctx context.Context, householdID string) {
	w.mu.Lock()
	if w.householdID == householdID {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.loopDone
	w.cancel = nil
	w.loopDone = nil
	w.householdID = householdID
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	w.setState(func(st *HouseholdState) {
		*st = HouseholdState{HouseholdID: householdID}
	})
	if householdID == "" {
		return
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	w.mu.Lock()
	w.cancel = loopCancel
	w.loopDone = loopDone
	w.mu.Unlock()

	go func() {
		defer close(loopDone)
		w.watch(loopCtx, householdID)
	}()
}

// Close tears down the live subscription.
func (w *HouseholdWatcher) Close() {
	w.SetHousehold(context.Background(), "")
}

// watch dials and reads the change feed until ctx is canceled,
// reconnecting with exponential backoff. A session that connected
// successfully resets the backoff when it drops.
func (w *HouseholdWatcher) watch(ctx context.Context, householdID string) {
	for {
		b := retry.WithCappedDuration(30*time.Second, retry.NewExponential(time.Second))
		err := retry.Do(ctx, b, func(ctx context.Context) error {
			if err := w.session(ctx, householdID); err != nil {
				w.setState(func(st *HouseholdState) {
					st.Connected = false
					st.Err = err
				})
				w.logger.Warn("household feed", "household", householdID, "error", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			return
		}
	}
}

// session runs one connection: dial, read until the server or the
// context closes it. A nil return means the connection was established
// and later dropped cleanly enough to retry with fresh backoff.
func (w *HouseholdWatcher) session(ctx context.Context, householdID string) error {
	header := http.Header{}
	if token := w.api.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := ws.Dial(ctx, w.api.baseURL+"/ws/households/"+householdID, &ws.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return err
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	w.setState(func(st *HouseholdState) {
		st.Connected = true
		st.Err = nil
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			w.setState(func(st *HouseholdState) {
				st.Connected = false
			})
			if ctx.Err() != nil {
				return nil
			}
			// Dropped connection; reconnect with fresh backoff
			return nil
		}

		var msg websocket.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.Warn("bad feed message", "error", err)
			continue
		}
		w.apply(msg)
	}
}

// apply folds one feed message into the item state.
func (w *HouseholdWatcher) apply(msg websocket.Message) {
	w.setState(func(st *HouseholdState) {
		switch {
		case msg.Type == "snapshot":
			st.Docs = make(map[string]map[string]any, len(msg.Docs))
			for _, doc := range msg.Docs {
				if id, ok := doc["id"].(string); ok {
					st.Docs[id] = doc
				}
			}
		case msg.Action == "created" || msg.Action == "updated":
			if st.Docs == nil {
				st.Docs = make(map[string]map[string]any)
			}
			if msg.Doc != nil {
				st.Docs[msg.ID] = msg.Doc
			} else {
				// Private item announced by id only
				delete(st.Docs, msg.ID)
			}
		case msg.Action == "deleted":
			delete(st.Docs, msg.ID)
		}
	})
}
