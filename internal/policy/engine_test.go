package policy

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

// fakeProfiles is an in-memory ProfileLookup.
type fakeProfiles struct {
	docs map[string]Doc
	err  error
}

func (f *fakeProfiles) Profile(_ context.Context, uid string) (Doc, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs[uid], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestEngine(profiles map[string]Doc) *Engine {
	return NewEngine(&fakeProfiles{docs: profiles}, discardLogger())
}

func authAs(uid string) *Auth {
	return &Auth{UID: uid, Email: uid + "@example.com"}
}

func assertAllowed(t *testing.T, d Decision) {
	t.Helper()
	if !d.Allowed {
		t.Fatalf("expected allow, got deny: %s", d.Reason)
	}
}

func assertDenied(t *testing.T, d Decision) {
	t.Helper()
	if d.Allowed {
		t.Fatal("expected deny, got allow")
	}
	if d.Reason == "" {
		t.Error("denial carries no reason")
	}
}

func basicUserDoc() Doc {
	now := time.Now()
	return Doc{
		"email":       "user@example.com",
		"displayName": "Test User",
		"created":     now,
		"lastLogin":   now,
	}
}

// --- users collection ---

func TestUserCreateOwnProfile(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionUsers, DocID: "alice",
		Auth: authAs("alice"), Data: basicUserDoc(),
	})
	assertAllowed(t, d)
}

func TestUserCreateForAnotherUser(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionUsers, DocID: "bob",
		Auth: authAs("alice"), Data: basicUserDoc(),
	})
	assertDenied(t, d)
}

func TestUserCreateWithArbitraryFields(t *testing.T) {
	e := newTestEngine(nil)
	data := basicUserDoc()
	data["isAdmin"] = true
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionUsers, DocID: "alice",
		Auth: authAs("alice"), Data: data,
	})
	assertDenied(t, d)
}

func TestUserCreateWithoutEmail(t *testing.T) {
	e := newTestEngine(nil)
	data := basicUserDoc()
	delete(data, "email")
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionUsers, DocID: "alice",
		Auth: authAs("alice"), Data: data,
	})
	assertDenied(t, d)
}

func TestUserReadOwnProfile(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Authorize(context.Background(), Request{
		Op: OpGet, Collection: CollectionUsers, DocID: "alice",
		Auth: authAs("alice"), Resource: basicUserDoc(),
	})
	assertAllowed(t, d)
}

func TestUserReadAnotherProfile(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Authorize(context.Background(), Request{
		Op: OpGet, Collection: CollectionUsers, DocID: "bob",
		Auth: authAs("alice"), Resource: basicUserDoc(),
	})
	assertDenied(t, d)
}

func TestUserUpdateDisplayName(t *testing.T) {
	e := newTestEngine(nil)
	existing := basicUserDoc()
	future := basicUserDoc()
	future["created"] = existing["created"]
	future["lastLogin"] = existing["lastLogin"]
	future["displayName"] = "Updated Name"
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionUsers, DocID: "alice",
		Auth: authAs("alice"), Data: future, Resource: existing,
	})
	assertAllowed(t, d)
}

// Toggling householdId null -> value -> other value -> null is the one
// mutation the owner performs around household setup; each step must pass
// individually.
func TestUserUpdateHouseholdIDLifecycle(t *testing.T) {
	e := newTestEngine(nil)
	ctx := context.Background()

	steps := []struct {
		name   string
		before any
		after  any
	}{
		{"set from null", nil, "h1"},
		{"change", "h1", "h2"},
		{"clear", "h2", nil},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			existing := basicUserDoc()
			existing["householdId"] = step.before
			future := basicUserDoc()
			future["created"] = existing["created"]
			future["lastLogin"] = existing["lastLogin"]
			future["householdId"] = step.after
			d := e.Authorize(ctx, Request{
				Op: OpUpdate, Collection: CollectionUsers, DocID: "alice",
				Auth: authAs("alice"), Data: future, Resource: existing,
			})
			assertAllowed(t, d)
		})
	}
}

func TestUserUpdateEmailRejected(t *testing.T) {
	e := newTestEngine(nil)
	existing := basicUserDoc()
	future := basicUserDoc()
	future["created"] = existing["created"]
	future["lastLogin"] = existing["lastLogin"]
	future["email"] = "new@example.com"
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionUsers, DocID: "alice",
		Auth: authAs("alice"), Data: future, Resource: existing,
	})
	assertDenied(t, d)
}

func TestUserUpdateCreatedRejected(t *testing.T) {
	e := newTestEngine(nil)
	existing := basicUserDoc()
	future := basicUserDoc()
	future["lastLogin"] = existing["lastLogin"]
	// A fresh server timestamp is a different value even when the client
	// meant "the same thing".
	future["created"] = existing["created"].(time.Time).Add(time.Second)
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionUsers, DocID: "alice",
		Auth: authAs("alice"), Data: future, Resource: existing,
	})
	assertDenied(t, d)
}

func TestUserUpdateAnotherProfile(t *testing.T) {
	e := newTestEngine(nil)
	existing := basicUserDoc()
	future := basicUserDoc()
	future["created"] = existing["created"]
	future["lastLogin"] = existing["lastLogin"]
	future["displayName"] = "Hijacked"
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionUsers, DocID: "bob",
		Auth: authAs("alice"), Data: future, Resource: existing,
	})
	assertDenied(t, d)
}

func TestUserUpdateSneaksInExtraField(t *testing.T) {
	e := newTestEngine(nil)
	existing := basicUserDoc()
	future := basicUserDoc()
	future["created"] = existing["created"]
	future["lastLogin"] = existing["lastLogin"]
	future["isAdmin"] = true
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionUsers, DocID: "alice",
		Auth: authAs("alice"), Data: future, Resource: existing,
	})
	assertDenied(t, d)
}

func TestUserDeleteHasNoRule(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Authorize(context.Background(), Request{
		Op: OpDelete, Collection: CollectionUsers, DocID: "alice",
		Auth: authAs("alice"), Resource: basicUserDoc(),
	})
	assertDenied(t, d)
}

// --- households collection ---

func householdDoc(owner string, members ...string) Doc {
	if members == nil {
		members = []string{owner}
	}
	return Doc{
		"name":          "Test Household",
		"ownerUserId":   owner,
		"memberUserIds": members,
		"created":       time.Now(),
	}
}

func profileWithHousehold(householdID any) Doc {
	return Doc{"email": "x@example.com", "householdId": householdID}
}

func TestHouseholdCreateAsSoleOwner(t *testing.T) {
	e := newTestEngine(map[string]Doc{"owner": profileWithHousehold(nil)})
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Data: householdDoc("owner"),
	})
	assertAllowed(t, d)
}

func TestHouseholdCreateWhenAlreadyInOne(t *testing.T) {
	e := newTestEngine(map[string]Doc{"owner": profileWithHousehold("existing")})
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Data: householdDoc("owner"),
	})
	assertDenied(t, d)
}

func TestHouseholdCreateOwnerMismatch(t *testing.T) {
	e := newTestEngine(map[string]Doc{"owner": profileWithHousehold(nil)})
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Data: householdDoc("someoneElse", "someoneElse"),
	})
	assertDenied(t, d)
}

func TestHouseholdCreateBadMemberSet(t *testing.T) {
	e := newTestEngine(map[string]Doc{"owner": profileWithHousehold(nil)})
	ctx := context.Background()

	d := e.Authorize(ctx, Request{
		Op: OpCreate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Data: householdDoc("owner", "owner", "friend"),
	})
	assertDenied(t, d)

	d = e.Authorize(ctx, Request{
		Op: OpCreate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Data: householdDoc("owner", "friend"),
	})
	assertDenied(t, d)
}

func TestHouseholdCreateProfileMissing(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Data: householdDoc("owner"),
	})
	assertDenied(t, d)
}

func TestHouseholdCreateProfileLookupError(t *testing.T) {
	e := NewEngine(&fakeProfiles{err: errors.New("lookup failed")}, discardLogger())
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Data: householdDoc("owner"),
	})
	assertDenied(t, d)
}

func TestHouseholdReadByMember(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Authorize(context.Background(), Request{
		Op: OpGet, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("member"), Resource: householdDoc("owner", "owner", "member"),
	})
	assertAllowed(t, d)
}

func TestHouseholdReadByNonMember(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Authorize(context.Background(), Request{
		Op: OpGet, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("stranger"), Resource: householdDoc("owner"),
	})
	assertDenied(t, d)
}

func TestHouseholdRenameByOwner(t *testing.T) {
	e := newTestEngine(nil)
	existing := householdDoc("owner")
	future := householdDoc("owner")
	future["created"] = existing["created"]
	future["name"] = "New Household Name"
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Data: future, Resource: existing,
	})
	assertAllowed(t, d)
}

func TestHouseholdRenameByMember(t *testing.T) {
	e := newTestEngine(nil)
	existing := householdDoc("owner", "owner", "member")
	future := householdDoc("owner", "owner", "member")
	future["created"] = existing["created"]
	future["name"] = "Attempted Update By Member"
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("member"), Data: future, Resource: existing,
	})
	assertDenied(t, d)
}

func TestHouseholdOwnerCannotTransferOwnership(t *testing.T) {
	e := newTestEngine(nil)
	existing := householdDoc("owner")
	future := householdDoc("owner")
	future["created"] = existing["created"]
	future["ownerUserId"] = "newOwner"
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Data: future, Resource: existing,
	})
	assertDenied(t, d)
}

func TestHouseholdOwnerCannotGrowMembership(t *testing.T) {
	e := newTestEngine(nil)
	existing := householdDoc("owner")
	future := householdDoc("owner", "owner", "newMember")
	future["created"] = existing["created"]
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Data: future, Resource: existing,
	})
	assertDenied(t, d)
}

func TestHouseholdMemberReorderIsNotAChange(t *testing.T) {
	e := newTestEngine(nil)
	existing := householdDoc("owner", "owner", "member")
	future := householdDoc("owner", "member", "owner")
	future["created"] = existing["created"]
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Data: future, Resource: existing,
	})
	assertAllowed(t, d)
}

func TestHouseholdDeleteHasNoRule(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Authorize(context.Background(), Request{
		Op: OpDelete, Collection: CollectionHouseholds, DocID: "h1",
		Auth: authAs("owner"), Resource: householdDoc("owner"),
	})
	assertDenied(t, d)
}

// --- items collection ---

const (
	creatorUID = "creator1"
	memberUID  = "member1"
	otherUID   = "otherUser"
	houseID    = "h1"
)

func itemProfiles() map[string]Doc {
	return map[string]Doc{
		creatorUID: profileWithHousehold(houseID),
		memberUID:  profileWithHousehold(houseID),
		otherUID:   profileWithHousehold("h2"),
	}
}

func itemDoc(private bool) Doc {
	return Doc{
		"name":          "Camping Stove",
		"location":      "A1",
		"status":        "STORED",
		"creatorUserId": creatorUID,
		"householdId":   houseID,
		"isPrivate":     private,
		"lastUpdated":   time.Now(),
	}
}

func TestItemCreatePublic(t *testing.T) {
	e := newTestEngine(itemProfiles())
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(creatorUID), Data: itemDoc(false),
	})
	assertAllowed(t, d)
}

func TestItemCreatePrivate(t *testing.T) {
	e := newTestEngine(itemProfiles())
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(creatorUID), Data: itemDoc(true),
	})
	assertAllowed(t, d)
}

func TestItemCreateForgedCreator(t *testing.T) {
	e := newTestEngine(itemProfiles())
	data := itemDoc(false)
	data["creatorUserId"] = "someoneElse"
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(creatorUID), Data: data,
	})
	assertDenied(t, d)
}

func TestItemCreateWrongHousehold(t *testing.T) {
	e := newTestEngine(itemProfiles())
	data := itemDoc(false)
	data["householdId"] = "wrongHousehold"
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(creatorUID), Data: data,
	})
	assertDenied(t, d)
}

func TestItemCreateIsPrivateNotBoolean(t *testing.T) {
	e := newTestEngine(itemProfiles())
	data := itemDoc(false)
	data["isPrivate"] = "true_string"
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(creatorUID), Data: data,
	})
	assertDenied(t, d)
}

func TestItemCreateWithoutHouseholdProfile(t *testing.T) {
	profiles := itemProfiles()
	profiles[creatorUID] = profileWithHousehold(nil)
	e := newTestEngine(profiles)
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(creatorUID), Data: itemDoc(false),
	})
	assertDenied(t, d)
}

func TestItemReadVisibility(t *testing.T) {
	e := newTestEngine(itemProfiles())
	ctx := context.Background()

	cases := []struct {
		name    string
		caller  string
		private bool
		allowed bool
	}{
		{"creator reads own private item", creatorUID, true, true},
		{"creator reads own public item", creatorUID, false, true},
		{"household member reads public item", memberUID, false, true},
		{"household member cannot read private item", memberUID, true, false},
		{"outsider cannot read public item", otherUID, false, false},
		{"outsider cannot read private item", otherUID, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Authorize(ctx, Request{
				Op: OpGet, Collection: CollectionItems, DocID: "item123",
				Auth: authAs(tc.caller), Resource: itemDoc(tc.private),
			})
			if d.Allowed != tc.allowed {
				t.Fatalf("allowed = %v, want %v (reason %q)", d.Allowed, tc.allowed, d.Reason)
			}
		})
	}
}

func TestItemListUsesReadRule(t *testing.T) {
	e := newTestEngine(itemProfiles())
	d := e.Authorize(context.Background(), Request{
		Op: OpList, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(memberUID), Resource: itemDoc(true),
	})
	assertDenied(t, d)

	d = e.Authorize(context.Background(), Request{
		Op: OpList, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(memberUID), Resource: itemDoc(false),
	})
	assertAllowed(t, d)
}

func TestItemUpdateByCreator(t *testing.T) {
	e := newTestEngine(itemProfiles())
	existing := itemDoc(true)
	future := itemDoc(true)
	future["lastUpdated"] = existing["lastUpdated"]
	future["location"] = "B2"
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(creatorUID), Data: future, Resource: existing,
	})
	assertAllowed(t, d)
}

func TestItemUpdatePublicByMember(t *testing.T) {
	e := newTestEngine(itemProfiles())
	existing := itemDoc(false)
	future := itemDoc(false)
	future["lastUpdated"] = existing["lastUpdated"]
	future["location"] = "B2"
	d := e.Authorize(context.Background(), Request{
		Op: OpUpdate, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(memberUID), Data: future, Resource: existing,
	})
	assertAllowed(t, d)
}

func TestItemUpdateImmutableFields(t *testing.T) {
	e := newTestEngine(itemProfiles())
	ctx := context.Background()

	existing := itemDoc(false)

	future := itemDoc(false)
	future["lastUpdated"] = existing["lastUpdated"]
	future["creatorUserId"] = "newUser"
	d := e.Authorize(ctx, Request{
		Op: OpUpdate, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(creatorUID), Data: future, Resource: existing,
	})
	assertDenied(t, d)

	future = itemDoc(false)
	future["lastUpdated"] = existing["lastUpdated"]
	future["householdId"] = "newHousehold"
	d = e.Authorize(ctx, Request{
		Op: OpUpdate, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(creatorUID), Data: future, Resource: existing,
	})
	assertDenied(t, d)
}

func TestItemDeleteByCreator(t *testing.T) {
	e := newTestEngine(itemProfiles())
	d := e.Authorize(context.Background(), Request{
		Op: OpDelete, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(creatorUID), Resource: itemDoc(true),
	})
	assertAllowed(t, d)
}

func TestItemDeletePublicByMember(t *testing.T) {
	e := newTestEngine(itemProfiles())
	d := e.Authorize(context.Background(), Request{
		Op: OpDelete, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(memberUID), Resource: itemDoc(false),
	})
	assertAllowed(t, d)
}

func TestItemDeletePrivateByMember(t *testing.T) {
	e := newTestEngine(itemProfiles())
	d := e.Authorize(context.Background(), Request{
		Op: OpDelete, Collection: CollectionItems, DocID: "item123",
		Auth: authAs(memberUID), Resource: itemDoc(true),
	})
	assertDenied(t, d)
}

// --- general access ---

func TestUnauthenticatedDeniedEverywhere(t *testing.T) {
	e := newTestEngine(itemProfiles())
	ctx := context.Background()

	requests := []Request{
		{Op: OpGet, Collection: CollectionUsers, DocID: "anyUser", Resource: basicUserDoc()},
		{Op: OpGet, Collection: CollectionItems, DocID: "anyItem", Resource: itemDoc(false)},
		{Op: OpCreate, Collection: "someRandomCollection", DocID: "someDoc", Data: Doc{"data": "test"}},
		{Op: OpCreate, Collection: CollectionHouseholds, DocID: "h9", Data: householdDoc("nobody")},
		{Op: OpDelete, Collection: CollectionItems, DocID: "anyItem", Resource: itemDoc(false)},
	}
	for _, req := range requests {
		if d := e.Authorize(ctx, req); d.Allowed {
			t.Errorf("unauthenticated %s %s/%s allowed", req.Op, req.Collection, req.DocID)
		}
	}
}

func TestUnmatchedCollectionDenied(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Authorize(context.Background(), Request{
		Op: OpCreate, Collection: "someRandomCollection", DocID: "someDoc",
		Auth: authAs("alice"), Data: Doc{"data": "test"},
	})
	assertDenied(t, d)
}

func TestDecisionHookSeesEveryEvaluation(t *testing.T) {
	type seen struct {
		collection string
		op         Operation
		allowed    bool
	}
	var got []seen
	e := NewEngine(&fakeProfiles{}, discardLogger(), WithDecisionHook(func(c string, op Operation, allowed bool) {
		got = append(got, seen{c, op, allowed})
	}))

	e.Authorize(context.Background(), Request{
		Op: OpGet, Collection: CollectionUsers, DocID: "alice",
		Auth: authAs("alice"), Resource: basicUserDoc(),
	})
	e.Authorize(context.Background(), Request{
		Op: OpGet, Collection: CollectionUsers, DocID: "bob",
		Auth: authAs("alice"), Resource: basicUserDoc(),
	})

	if len(got) != 2 {
		t.Fatalf("hook calls = %d, want 2", len(got))
	}
	if !got[0].allowed || got[1].allowed {
		t.Errorf("hook results = %+v, want allow then deny", got)
	}
}
