package policy

import (
	"context"
	"reflect"
	"slices"
	"time"
)

// Operation is a document operation subject to authorization.
type Operation string

const (
	OpCreate Operation = "create"
	OpGet    Operation = "get"
	OpList   Operation = "list"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Collection names.
const (
	CollectionUsers      = "users"
	CollectionHouseholds = "households"
	CollectionItems      = "items"
)

// Auth is the verified identity of the caller. A nil *Auth means the
// request is unauthenticated.
type Auth struct {
	UID   string
	Email string
}

// Doc is a document as the engine sees it: a flat field map. Writes are
// evaluated against the future document state (existing fields merged
// with the incoming change), so immutability checks compare future
// values against stored ones.
type Doc map[string]any

// Request describes one attempted document operation.
type Request struct {
	Op         Operation
	Collection string
	DocID      string
	Auth       *Auth
	Data       Doc // future document state; nil for get/list/delete
	Resource   Doc // existing stored document; nil for create
}

// Decision is the tagged result of an authorization check. Reason is for
// logs and metrics only; callers must surface denials as a generic
// failure.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with an internal reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// ProfileLookup resolves the caller's own user document, the one
// dependent read the rules need. It is injected so the engine stays
// testable with fakes.
type ProfileLookup interface {
	Profile(ctx context.Context, uid string) (Doc, error)
}

// Has reports whether the field is present, even if null.
func (d Doc) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// IsNull reports whether the field is absent or explicitly null.
func (d Doc) IsNull(key string) bool {
	v, ok := d[key]
	return !ok || v == nil
}

// String returns the field as a string. Missing, null, or non-string
// values return ("", false).
func (d Doc) String(key string) (string, bool) {
	s, ok := d[key].(string)
	return s, ok
}

// Bool returns the field as a bool, with ok=false for missing, null, or
// non-boolean values.
func (d Doc) Bool(key string) (bool, bool) {
	b, ok := d[key].(bool)
	return b, ok
}

// StringList returns the field as a list of strings. Both []string and
// []any-of-string (as produced by JSON decoding) are accepted.
func (d Doc) StringList(key string) ([]string, bool) {
	switch v := d[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// fieldUnchanged reports whether a field holds the same value in the
// future document as in the stored one. Absent-on-both counts as
// unchanged.
func fieldUnchanged(future, existing Doc, key string) bool {
	return valueEqual(future[key], existing[key])
}

func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	if as, aok := asStringSlice(a); aok {
		bs, bok := asStringSlice(b)
		return bok && slices.Equal(as, bs)
	}
	return reflect.DeepEqual(a, b)
}

// sameMemberSet compares two member lists as sets (order-irrelevant).
func sameMemberSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}

func asStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}
