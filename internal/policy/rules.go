package policy

import "context"

// userFields is the closed schema for user profile documents. A create
// carrying any field outside this set is rejected outright.
var userFields = map[string]struct{}{
	"email":       {},
	"displayName": {},
	"householdId": {},
	"created":     {},
	"lastLogin":   {},
}

func standardRules() map[ruleKey]checkFunc {
	return map[ruleKey]checkFunc{
		{CollectionUsers, OpCreate}: userCreate,
		{CollectionUsers, OpGet}:    userGet,
		{CollectionUsers, OpUpdate}: userUpdate,
		// users delete: no rule, deny by default

		{CollectionHouseholds, OpCreate}: householdCreate,
		{CollectionHouseholds, OpGet}:    householdGet,
		{CollectionHouseholds, OpUpdate}: householdUpdate,
		// households delete: no rule, deny by default

		{CollectionItems, OpCreate}: itemCreate,
		{CollectionItems, OpGet}:    itemRead,
		{CollectionItems, OpUpdate}: itemUpdate,
		{CollectionItems, OpDelete}: itemRead,
	}
}

// users/{uid}: only the identity itself may touch its profile.

func userCreate(_ context.Context, _ *Engine, req Request) Decision {
	if req.Auth.UID != req.DocID {
		return Deny("profile uid must match caller")
	}
	for field := range req.Data {
		if _, ok := userFields[field]; !ok {
			return Deny("field not in profile schema: " + field)
		}
	}
	if _, ok := req.Data.String("email"); !ok {
		return Deny("profile email missing")
	}
	return Allow()
}

func userGet(_ context.Context, _ *Engine, req Request) Decision {
	if req.Auth.UID != req.DocID {
		return Deny("profile readable by owner only")
	}
	return Allow()
}

func userUpdate(_ context.Context, _ *Engine, req Request) Decision {
	if req.Auth.UID != req.DocID {
		return Deny("profile writable by owner only")
	}
	if !fieldUnchanged(req.Data, req.Resource, "email") {
		return Deny("email is immutable")
	}
	if !fieldUnchanged(req.Data, req.Resource, "created") {
		return Deny("created is immutable")
	}
	for field := range req.Data {
		if _, ok := userFields[field]; !ok {
			return Deny("field not in profile schema: " + field)
		}
	}
	return Allow()
}

// households/{id}: created by their sole founding member, readable by
// members, renamable by the owner. Membership growth happens through a
// trusted server-side path, never through these rules.

func householdCreate(ctx context.Context, e *Engine, req Request) Decision {
	owner, ok := req.Data.String("ownerUserId")
	if !ok || owner != req.Auth.UID {
		return Deny("ownerUserId must match caller")
	}
	members, ok := req.Data.StringList("memberUserIds")
	if !ok || len(members) != 1 || members[0] != req.Auth.UID {
		return Deny("memberUserIds must be exactly the owner")
	}
	if !e.callerHasNoHousehold(ctx, req.Auth.UID) {
		return Deny("caller already belongs to a household")
	}
	return Allow()
}

func householdGet(_ context.Context, _ *Engine, req Request) Decision {
	members, ok := req.Resource.StringList("memberUserIds")
	if !ok {
		return Deny("household has no member list")
	}
	for _, m := range members {
		if m == req.Auth.UID {
			return Allow()
		}
	}
	return Deny("caller is not a household member")
}

func householdUpdate(_ context.Context, _ *Engine, req Request) Decision {
	owner, ok := req.Resource.String("ownerUserId")
	if !ok || owner != req.Auth.UID {
		return Deny("only the owner may update the household")
	}
	if !fieldUnchanged(req.Data, req.Resource, "ownerUserId") {
		return Deny("ownerUserId is immutable")
	}
	before, bok := req.Resource.StringList("memberUserIds")
	after, aok := req.Data.StringList("memberUserIds")
	if !bok || !aok || !sameMemberSet(before, after) {
		return Deny("memberUserIds cannot change through this path")
	}
	return Allow()
}

// items/{id}: created inside the caller's own household; private items
// are creator-only, public items are household-wide.

func itemCreate(ctx context.Context, e *Engine, req Request) Decision {
	creator, ok := req.Data.String("creatorUserId")
	if !ok || creator != req.Auth.UID {
		return Deny("creatorUserId must match caller")
	}
	household, ok := req.Data.String("householdId")
	if !ok || household == "" {
		return Deny("item householdId missing")
	}
	callerHousehold, ok := e.callerHouseholdID(ctx, req.Auth.UID)
	if !ok || callerHousehold != household {
		return Deny("item householdId must match caller's household")
	}
	if _, ok := req.Data.Bool("isPrivate"); !ok {
		return Deny("isPrivate must be a boolean")
	}
	return Allow()
}

// itemRead is the shared visibility predicate for get, list, and delete.
func itemRead(ctx context.Context, e *Engine, req Request) Decision {
	creator, _ := req.Resource.String("creatorUserId")
	if creator != "" && creator == req.Auth.UID {
		return Allow()
	}
	isPrivate, ok := req.Resource.Bool("isPrivate")
	if !ok || isPrivate {
		return Deny("private item is creator-only")
	}
	household, ok := req.Resource.String("householdId")
	if !ok || household == "" {
		return Deny("item has no household")
	}
	callerHousehold, ok := e.callerHouseholdID(ctx, req.Auth.UID)
	if !ok || callerHousehold != household {
		return Deny("caller is not in the item's household")
	}
	return Allow()
}

func itemUpdate(ctx context.Context, e *Engine, req Request) Decision {
	if d := itemRead(ctx, e, req); !d.Allowed {
		return d
	}
	if !fieldUnchanged(req.Data, req.Resource, "creatorUserId") {
		return Deny("creatorUserId is immutable")
	}
	if !fieldUnchanged(req.Data, req.Resource, "householdId") {
		return Deny("item householdId is immutable")
	}
	return Allow()
}
