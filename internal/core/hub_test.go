package core

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/msgroom-server/internal/auth"
	"github.com/vovakirdan/msgroom-server/internal/identity"
	"github.com/vovakirdan/msgroom-server/internal/store"
)

func TestHubJoinBroadcastAndLeave(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	alice, aliceAuth := login(t, hub, "10.0.0.1", "alice")
	if aliceAuth.Identity != identity.Derive("10.0.0.1", false) {
		t.Fatalf("unexpected identity %q", aliceAuth.Identity)
	}
	if aliceAuth.SessionID != aliceAuth.Identity+"-0" {
		t.Fatalf("unexpected session id %q", aliceAuth.SessionID)
	}

	bob, _ := login(t, hub, "10.0.0.2", "bob")

	joinEv := mustEvent(t, alice.Events, EventUserJoin)
	if joinEv.User.User != "bob" || joinEv.User.Channel != "main" {
		t.Fatalf("unexpected join event: %+v", joinEv.User)
	}

	say(alice, "hi")
	msgEv := mustEvent(t, bob.Events, EventMessage)
	if msgEv.Message.Content != "hi" || msgEv.Message.User != "alice" || msgEv.Message.SessionID != aliceAuth.SessionID {
		t.Fatalf("unexpected message event: %+v", msgEv.Message)
	}

	hub.UnregisterClient(bob)
	leftEv := mustEvent(t, alice.Events, EventUserLeave)
	if leftEv.User.User != "bob" {
		t.Fatalf("unexpected leave event: %+v", leftEv.User)
	}
	waitClosed(t, bob)
}

func TestHubHandshakeSendsServerInfoAndWelcome(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	c := connect(hub, "10.0.0.1", &AuthRequest{User: "alice"})
	mustEvent(t, c.Events, EventAuthComplete)
	info := mustEvent(t, c.Events, EventServerInfo)
	if info.Info.MaxMessageLength != 2048 || info.Info.DefaultChannel != "main" {
		t.Fatalf("unexpected server info: %+v", info.Info)
	}
	welcome := mustEvent(t, c.Events, EventMessage)
	if welcome.Message.User != SystemName {
		t.Fatalf("welcome not from system: %+v", welcome.Message)
	}
	online := mustEvent(t, c.Events, EventOnline)
	if len(online.Users) != 1 || online.Users[0].User != "alice" {
		t.Fatalf("unexpected online list: %+v", online.Users)
	}
	if !c.Authenticated() {
		t.Fatalf("client should be authenticated")
	}
}

func TestHubSessionIDsStayUnique(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	first, a := login(t, hub, "10.0.0.1", "one")
	_, b := login(t, hub, "10.0.0.1", "two")
	if a.SessionID == b.SessionID {
		t.Fatalf("duplicate session id %q", a.SessionID)
	}
	if b.SessionID != b.Identity+"-1" {
		t.Fatalf("unexpected second session id %q", b.SessionID)
	}

	hub.UnregisterClient(first)
	waitClosed(t, first)

	_, c := login(t, hub, "10.0.0.1", "three")
	if c.SessionID != c.Identity+"-0" {
		t.Fatalf("freed ordinal not reused, got %q", c.SessionID)
	}
	if c.SessionID == b.SessionID {
		t.Fatalf("session id collides with a live session")
	}
}

func TestHubSecondAuthIgnored(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	c, _ := login(t, hub, "10.0.0.1", "alice")
	c.Commands <- &Command{Kind: CommandAuth, Auth: &AuthRequest{User: "mallory"}}
	noEvent(t, c.Events, EventAuthComplete, 200*time.Millisecond)
	if n := sessionCount(t, hub); n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}
}

func TestHubInvalidNicknameRejected(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	for _, name := range []string{"", "System", "abcdefghijklmnopqrs", "bad\x00name", "   "} {
		c := connect(hub, "10.0.0.1", &AuthRequest{User: name})
		ev := mustEvent(t, c.Events, EventAuthError)
		if ev.Error.Code != ReasonInvalidNickname {
			t.Fatalf("name %q: expected invalid-nickname, got %+v", name, ev.Error)
		}
		waitClosed(t, c)
	}
	if n := sessionCount(t, hub); n != 0 {
		t.Fatalf("rejected handshakes created %d sessions", n)
	}
}

func TestHubUserLimit(t *testing.T) {
	settings := testSettings()
	settings.UserLimit = 1
	hub := startHub(t, nil, settings)

	first, _ := login(t, hub, "10.0.0.1", "alice")

	c := connect(hub, "10.0.0.1", &AuthRequest{User: "alice2"})
	ev := mustEvent(t, c.Events, EventAuthError)
	if ev.Error.Code != ReasonTooManySessions {
		t.Fatalf("expected too-many-sessions, got %+v", ev.Error)
	}

	// disconnectAll frees the slot before the cap is checked.
	c = connect(hub, "10.0.0.1", &AuthRequest{User: "alice3", DisconnectAll: true})
	mustEvent(t, c.Events, EventAuthComplete)
	waitClosed(t, first)
	if n := sessionCount(t, hub); n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}
}

func TestHubCommandBeforeAuth(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	c := NewClient("c", "10.0.0.1")
	hub.RegisterClient(c)
	say(c, "hello")

	ev := mustEvent(t, c.Events, EventError)
	if ev.Error.Code != ErrCodeNotAuthenticated {
		t.Fatalf("expected not-authenticated, got %+v", ev.Error)
	}
}

func TestHubRateLimit(t *testing.T) {
	settings := testSettings()
	settings.RateLimit = 3
	hub := startHub(t, nil, settings)

	alice, _ := login(t, hub, "10.0.0.1", "alice")
	bob, _ := login(t, hub, "10.0.0.2", "bob")

	for i := 0; i < settings.RateLimit+1; i++ {
		say(alice, "spam")
	}
	for i := 0; i < settings.RateLimit; i++ {
		mustEvent(t, bob.Events, EventMessage)
	}
	mustNotice(t, alice, tooFastNotice)
	noEvent(t, bob.Events, EventMessage, 200*time.Millisecond)
}

func TestHubNickRateLimitSharesMessageCounter(t *testing.T) {
	settings := testSettings()
	settings.RateLimit = 1
	hub := startHub(t, nil, settings)

	alice, _ := login(t, hub, "10.0.0.1", "alice")
	say(alice, "hello")
	mustEvent(t, alice.Events, EventMessage)

	alice.Commands <- &Command{Kind: CommandChangeName, Name: "alicia"}
	mustNotice(t, alice, tooFastNotice)
}

func TestHubChangeName(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	alice, _ := login(t, hub, "10.0.0.1", "alice")
	bob, _ := login(t, hub, "10.0.0.2", "bob")

	alice.Commands <- &Command{Kind: CommandChangeName, Name: "System"}
	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error.Code != ErrCodeInvalidNickname {
		t.Fatalf("expected invalid-nickname, got %+v", ev.Error)
	}

	alice.Commands <- &Command{Kind: CommandChangeName, Name: "alicia"}
	nick := mustEvent(t, bob.Events, EventNickChanged)
	if nick.Nick.OldUser != "alice" || nick.Nick.NewUser != "alicia" {
		t.Fatalf("unexpected nick change: %+v", nick.Nick)
	}
}

func TestHubMessageValidation(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	alice, _ := login(t, hub, "10.0.0.1", "alice")

	say(alice, "")
	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error.Code != ErrCodeInvalidMessage {
		t.Fatalf("expected invalid-message, got %+v", ev.Error)
	}

	say(alice, strings.Repeat("x", 2049))
	ev = mustEvent(t, alice.Events, EventError)
	if ev.Error.Code != ErrCodeInvalidMessage {
		t.Fatalf("expected invalid-message, got %+v", ev.Error)
	}

	say(alice, strings.Repeat("é", 2048))
	msg := mustEvent(t, alice.Events, EventMessage)
	if msg.Message.User != "alice" {
		t.Fatalf("unexpected message: %+v", msg.Message)
	}
}

func TestHubChannelIsolation(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	alice, _ := login(t, hub, "10.0.0.1", "alice")
	bob := connect(hub, "10.0.0.2", &AuthRequest{User: "bob", Channel: "side"})
	mustEvent(t, bob.Events, EventOnline)

	say(alice, "main only")
	mustEvent(t, alice.Events, EventMessage)
	noEvent(t, bob.Events, EventMessage, 200*time.Millisecond)

	bob.Commands <- &Command{Kind: CommandSwitchChannel, Channel: "main"}
	join := mustEvent(t, alice.Events, EventUserJoin)
	if join.User.User != "bob" {
		t.Fatalf("unexpected join: %+v", join.User)
	}
	online := mustEvent(t, bob.Events, EventOnline)
	if len(online.Users) != 2 {
		t.Fatalf("expected 2 users online, got %+v", online.Users)
	}

	say(alice, "hello bob")
	msg := mustEvent(t, bob.Events, EventMessage)
	if msg.Message.Content != "hello bob" {
		t.Fatalf("unexpected message: %+v", msg.Message)
	}
}

func TestHubChannelsDisabled(t *testing.T) {
	settings := testSettings()
	settings.ChannelsEnabled = false
	hub := startHub(t, nil, settings)

	alice := connect(hub, "10.0.0.1", &AuthRequest{User: "alice", Channel: "elsewhere"})
	online := mustEvent(t, alice.Events, EventOnline)
	if online.Users[0].Channel != "main" {
		t.Fatalf("expected default channel, got %q", online.Users[0].Channel)
	}

	alice.Commands <- &Command{Kind: CommandSwitchChannel, Channel: "other"}
	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error.Code != ErrCodeChannelsDisabled {
		t.Fatalf("expected channels-disabled, got %+v", ev.Error)
	}
}

func TestHubLockedChannel(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	st := store.NewState()
	st.ChannelPasswords["vip"] = hash
	mod, _ := openModeration(t, st)
	hub := startHub(t, mod, testSettings())

	c := connect(hub, "10.0.0.1", &AuthRequest{User: "alice", Channel: "vip"})
	if ev := mustEvent(t, c.Events, EventAuthError); ev.Error.Code != ReasonChannelLocked {
		t.Fatalf("expected channel-locked, got %+v", ev.Error)
	}

	c = connect(hub, "10.0.0.1", &AuthRequest{User: "alice", Channel: "vip", ChannelPassword: "nope"})
	if ev := mustEvent(t, c.Events, EventAuthError); ev.Error.Code != ReasonBadPassword {
		t.Fatalf("expected bad-password, got %+v", ev.Error)
	}

	c = connect(hub, "10.0.0.1", &AuthRequest{User: "alice", Channel: "vip", ChannelPassword: "hunter2"})
	online := mustEvent(t, c.Events, EventOnline)
	if online.Users[0].Channel != "vip" {
		t.Fatalf("unexpected channel %q", online.Users[0].Channel)
	}

	bob, _ := login(t, hub, "10.0.0.2", "bob")
	bob.Commands <- &Command{Kind: CommandSwitchChannel, Channel: "vip", Password: "wrong"}
	if ev := mustEvent(t, bob.Events, EventError); ev.Error.Code != ErrCodeBadPassword {
		t.Fatalf("expected bad-password, got %+v", ev.Error)
	}
}

func TestHubLoginKeys(t *testing.T) {
	st := store.NewState()
	st.LoginKeys = []string{"letmein"}
	mod, _ := openModeration(t, st)
	settings := testSettings()
	settings.RequireLoginKey = true
	hub := startHub(t, mod, settings)

	c := connect(hub, "10.0.0.1", &AuthRequest{User: "alice"})
	if ev := mustEvent(t, c.Events, EventAuthError); ev.Error.Code != ReasonMissingLoginKey {
		t.Fatalf("expected missing-login-key, got %+v", ev.Error)
	}
	c = connect(hub, "10.0.0.1", &AuthRequest{User: "alice", LoginKey: "guess"})
	if ev := mustEvent(t, c.Events, EventAuthError); ev.Error.Code != ReasonUnknownLoginKey {
		t.Fatalf("expected unknown-login-key, got %+v", ev.Error)
	}
	c = connect(hub, "10.0.0.1", &AuthRequest{User: "alice", LoginKey: "letmein"})
	mustEvent(t, c.Events, EventAuthComplete)
}

func TestHubIPDenyUsesAddressIdentity(t *testing.T) {
	st := store.NewState()
	st.IPDeny = []string{identity.Derive("10.0.0.9", false)}
	mod, _ := openModeration(t, st)
	settings := testSettings()
	settings.RandomIDs = true
	hub := startHub(t, mod, settings)

	c := connect(hub, "10.0.0.9", &AuthRequest{User: "alice"})
	if ev := mustEvent(t, c.Events, EventAuthError); ev.Error.Code != ReasonBanned {
		t.Fatalf("expected banned, got %+v", ev.Error)
	}

	_, done := login(t, hub, "10.0.0.10", "bob")
	if done.Identity == identity.Derive("10.0.0.10", false) || !identity.Valid(done.Identity) {
		t.Fatalf("expected a random identity, got %q", done.Identity)
	}
}

func TestHubBlockUser(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	alice, aliceAuth := login(t, hub, "10.0.0.1", "alice")
	bob, _ := login(t, hub, "10.0.0.2", "bob")

	bob.Commands <- &Command{Kind: CommandBlockUser, Target: aliceAuth.SessionID}
	mustNotice(t, bob, "User blocked.")

	say(alice, "can you hear me")
	mustEvent(t, alice.Events, EventMessage)
	noEvent(t, bob.Events, EventMessage, 200*time.Millisecond)

	bob.Commands <- &Command{Kind: CommandUnblockUser, Target: aliceAuth.Identity}
	mustNotice(t, bob, "User unblocked.")

	say(alice, "now?")
	mustEvent(t, bob.Events, EventMessage)
}

func TestHubShadowbannedSenderOnlySeesSelf(t *testing.T) {
	st := store.NewState()
	st.Shadowbanned = []string{identity.Derive("10.0.0.66", false)}
	mod, _ := openModeration(t, st)
	hub := startHub(t, mod, testSettings())

	bob, _ := login(t, hub, "10.0.0.2", "bob")
	troll := connect(hub, "10.0.0.66", &AuthRequest{User: "troll"})
	mustEvent(t, troll.Events, EventOnline)
	noEvent(t, bob.Events, EventUserJoin, 200*time.Millisecond)

	say(troll, "hello?")
	mustEvent(t, troll.Events, EventMessage)
	noEvent(t, bob.Events, EventMessage, 200*time.Millisecond)

	users, err := hub.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0].User != "bob" {
		t.Fatalf("shadowbanned session listed: %+v", users)
	}
}

func TestHubUnauthorizedBan(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	alice, _ := login(t, hub, "10.0.0.1", "alice")
	_, bobAuth := login(t, hub, "10.0.0.2", "bob")

	say(alice, "/a ban "+bobAuth.SessionID)
	mustNotice(t, alice, unauthorizedNotice)

	// Missing arguments still report the authorization failure first.
	alice.Commands <- &Command{Kind: CommandAdminAction, Args: []string{"a", "ban"}}
	mustNotice(t, alice, unauthorizedNotice)

	if n := sessionCount(t, hub); n != 2 {
		t.Fatalf("expected 2 sessions, got %d", n)
	}
}

func staffHub(t *testing.T) (*Hub, *store.MemoryBackend) {
	t.Helper()

	st := store.NewState()
	st.Keys["s3cret"] = &store.KeyEntry{Flags: []string{"staff"}}
	mod, backend := openModeration(t, st)
	settings := testSettings()
	settings.RateLimit = 50
	return startHub(t, mod, settings), backend
}

func TestHubStaffBanAndUnban(t *testing.T) {
	hub, backend := staffHub(t)

	staff, _ := login(t, hub, "10.0.0.1", "mod")
	target, targetAuth := login(t, hub, "10.0.0.2", "troll")

	say(staff, "/a auth s3cret")
	update := mustEvent(t, staff.Events, EventUserUpdate)
	if update.Update.Type != UpdateTagAdd || update.Update.Tag != "staff" {
		t.Fatalf("unexpected update: %+v", update.Update)
	}

	say(staff, "/a ban "+targetAuth.SessionID)
	mustNotice(t, target, "You have been banned.")
	waitClosed(t, target)
	if target.CloseReason() != ReasonBanned {
		t.Fatalf("unexpected close reason %q", target.CloseReason())
	}
	mustEvent(t, staff.Events, EventUserLeave)
	if got := backend.Stored().Banned; len(got) != 1 || got[0] != targetAuth.Identity {
		t.Fatalf("ban not persisted: %v", got)
	}

	again := connect(hub, "10.0.0.2", &AuthRequest{User: "troll"})
	if ev := mustEvent(t, again.Events, EventAuthError); ev.Error.Code != ReasonBanned {
		t.Fatalf("expected banned, got %+v", ev.Error)
	}

	say(staff, "/a unban "+targetAuth.Identity)
	mustNotice(t, staff, "User "+targetAuth.Identity+" unbanned.")

	login(t, hub, "10.0.0.2", "troll")
}

func TestHubBanFlushFailureLeavesTargetConnected(t *testing.T) {
	hub, backend := staffHub(t)

	staff := connect(hub, "10.0.0.1", &AuthRequest{User: "mod", StaffKey: "s3cret"})
	mustEvent(t, staff.Events, EventOnline)
	_, targetAuth := login(t, hub, "10.0.0.2", "troll")

	backend.FailSaves(errors.New("disk full"))
	say(staff, "/a ban "+targetAuth.Identity)
	mustNotice(t, staff, internalErrorNotice)

	if n := sessionCount(t, hub); n != 2 {
		t.Fatalf("expected 2 sessions, got %d", n)
	}
}

func TestHubShadowbanCommand(t *testing.T) {
	hub, _ := staffHub(t)

	staff := connect(hub, "10.0.0.1", &AuthRequest{User: "mod", StaffKey: "s3cret"})
	mustEvent(t, staff.Events, EventOnline)
	troll, trollAuth := login(t, hub, "10.0.0.2", "troll")

	staff.Commands <- &Command{Kind: CommandAdminAction, Args: []string{"a", "shadowban", trollAuth.SessionID}}
	leave := mustEvent(t, staff.Events, EventUserLeave)
	if leave.User.SessionID != trollAuth.SessionID {
		t.Fatalf("unexpected leave: %+v", leave.User)
	}

	say(troll, "anyone?")
	mustEvent(t, troll.Events, EventMessage)
	noEvent(t, staff.Events, EventMessage, 200*time.Millisecond)

	staff.Commands <- &Command{Kind: CommandAdminAction, Args: []string{"a", "shadowunban", trollAuth.Identity}}
	join := mustEvent(t, staff.Events, EventUserJoin)
	if join.User.SessionID != trollAuth.SessionID {
		t.Fatalf("unexpected join: %+v", join.User)
	}
}

func TestHubDisauth(t *testing.T) {
	hub, _ := staffHub(t)

	staff := connect(hub, "10.0.0.1", &AuthRequest{User: "mod", StaffKey: "s3cret", Bot: true})
	mustEvent(t, staff.Events, EventOnline)

	say(staff, "/a disauth")
	update := mustEvent(t, staff.Events, EventUserUpdate)
	if update.Update.Type != UpdateTagRemove || update.Update.Tag != "staff" {
		t.Fatalf("unexpected update: %+v", update.Update)
	}

	say(staff, "/a help")
	mustNotice(t, staff, unauthorizedNotice)
}

func TestHubControlPlane(t *testing.T) {
	hub := startHub(t, nil, testSettings())
	ctx := context.Background()

	alice, aliceAuth := login(t, hub, "10.0.0.1", "alice")

	users, err := hub.ListSessions(ctx)
	if err != nil || len(users) != 1 {
		t.Fatalf("list: %v %+v", err, users)
	}
	info, ok, err := hub.SessionInfo(ctx, aliceAuth.Identity)
	if err != nil || !ok || info.SessionID != aliceAuth.SessionID {
		t.Fatalf("info: %v %v %+v", err, ok, info)
	}

	if err := hub.SystemMessage(ctx, "", "", "maintenance soon"); err != nil {
		t.Fatalf("system message: %v", err)
	}
	msg := mustEvent(t, alice.Events, EventMessage)
	if msg.Message.User != SystemName || msg.Message.Content != "maintenance soon" {
		t.Fatalf("unexpected message: %+v", msg.Message)
	}

	found, err := hub.Ban(ctx, aliceAuth.SessionID)
	if err != nil || !found {
		t.Fatalf("ban: %v %v", err, found)
	}
	waitClosed(t, alice)

	changed, err := hub.Unban(ctx, aliceAuth.Identity)
	if err != nil || !changed {
		t.Fatalf("unban: %v %v", err, changed)
	}
}

func TestHubRestartDisconnectsEveryone(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	alice, _ := login(t, hub, "10.0.0.1", "alice")
	pending := NewClient("p", "10.0.0.3")
	hub.RegisterClient(pending)

	if err := hub.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitClosed(t, alice)
	waitClosed(t, pending)
	if n := sessionCount(t, hub); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}
}

func TestHubStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, testSettings())
	go hub.Run(ctx)

	alice := connect(hub, "10.0.0.1", &AuthRequest{User: "alice"})
	mustEvent(t, alice.Events, EventAuthComplete)

	cancel()
	waitClosed(t, alice)
	<-hub.Done()

	if _, err := hub.Count(context.Background()); !errors.Is(err, ErrHubStopped) {
		t.Fatalf("expected ErrHubStopped, got %v", err)
	}
}

func TestHubSwitchChannel(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	st := store.NewState()
	st.ChannelPasswords["vip"] = hash
	mod, _ := openModeration(t, st)
	hub := startHub(t, mod, testSettings())

	alice, _ := login(t, hub, "10.0.0.1", "alice")
	bob, bobAuth := login(t, hub, "10.0.0.2", "bob")
	carol := connect(hub, "10.0.0.3", &AuthRequest{User: "carol", Channel: "vip", ChannelPassword: "hunter2"})
	mustEvent(t, carol.Events, EventOnline)

	bob.Commands <- &Command{Kind: CommandSwitchChannel, Channel: "vip"}
	if ev := mustEvent(t, bob.Events, EventError); ev.Error.Code != ErrCodeChannelLocked {
		t.Fatalf("expected channel-locked, got %+v", ev.Error)
	}
	bob.Commands <- &Command{Kind: CommandSwitchChannel, Channel: "vip", Password: "wrong"}
	if ev := mustEvent(t, bob.Events, EventError); ev.Error.Code != ErrCodeBadPassword {
		t.Fatalf("expected bad-password, got %+v", ev.Error)
	}

	bob.Commands <- &Command{Kind: CommandSwitchChannel, Channel: "vip", Password: "hunter2"}
	leave := mustEvent(t, alice.Events, EventUserLeave)
	if leave.User.SessionID != bobAuth.SessionID || leave.User.Channel != "main" {
		t.Fatalf("unexpected leave: %+v", leave.User)
	}
	join := mustEvent(t, carol.Events, EventUserJoin)
	if join.User.SessionID != bobAuth.SessionID || join.User.Channel != "vip" {
		t.Fatalf("unexpected join: %+v", join.User)
	}
	online := mustEvent(t, bob.Events, EventOnline)
	if len(online.Users) != 2 {
		t.Fatalf("expected 2 users in vip, got %+v", online.Users)
	}
	for _, u := range online.Users {
		if u.Channel != "vip" {
			t.Fatalf("online lists a user outside vip: %+v", u)
		}
	}
	noEvent(t, alice.Events, EventUserJoin, 200*time.Millisecond)
	noEvent(t, carol.Events, EventUserLeave, 200*time.Millisecond)

	bob.Commands <- &Command{Kind: CommandSwitchChannel, Channel: "vip"}
	mustNotice(t, bob, "You are already in #vip.")

	say(alice, "anyone in main?")
	mustEvent(t, alice.Events, EventMessage)
	noEvent(t, bob.Events, EventMessage, 200*time.Millisecond)
}

func TestHubCommandsShareMessageLimiter(t *testing.T) {
	st := store.NewState()
	st.Keys["s3cret"] = &store.KeyEntry{Flags: []string{"staff"}}
	mod, backend := openModeration(t, st)
	settings := testSettings()
	settings.RateLimit = 1
	hub := startHub(t, mod, settings)

	alice, _ := login(t, hub, "10.0.0.1", "alice")

	say(alice, "/a auth guess")
	mustNotice(t, alice, "Authorization failed.")

	say(alice, "/a auth s3cret")
	mustNotice(t, alice, tooFastNotice)
	alice.Commands <- &Command{Kind: CommandAdminAction, Args: []string{"a", "auth", "s3cret"}}
	mustNotice(t, alice, tooFastNotice)

	noEvent(t, alice.Events, EventUserUpdate, 200*time.Millisecond)
	if ids := backend.Stored().Keys["s3cret"].Identities; len(ids) != 0 {
		t.Fatalf("key used past the limit: %v", ids)
	}
}

func TestHubAuthAnnouncesTagsToChannel(t *testing.T) {
	st := store.NewState()
	st.Keys["s3cret"] = &store.KeyEntry{Flags: []string{"staff"}}
	st.Shadowbanned = []string{identity.Derive("10.0.0.66", false)}
	mod, _ := openModeration(t, st)
	settings := testSettings()
	settings.RateLimit = 50
	hub := startHub(t, mod, settings)

	alice, _ := login(t, hub, "10.0.0.2", "alice")
	staff, staffAuth := login(t, hub, "10.0.0.1", "mod")

	say(staff, "/a auth s3cret")
	update := mustUpdate(t, alice, staffAuth.SessionID)
	if update.Type != UpdateTagAdd || update.Tag != "staff" {
		t.Fatalf("unexpected update: %+v", update)
	}
	mustUpdate(t, staff, staffAuth.SessionID)
	mustNotice(t, staff, "You are now authenticated as [staff].")
	noEvent(t, alice.Events, EventSysMessage, 200*time.Millisecond)

	troll := connect(hub, "10.0.0.66", &AuthRequest{User: "troll"})
	trollAuth := mustEvent(t, troll.Events, EventAuthComplete)
	mustEvent(t, troll.Events, EventOnline)

	say(troll, "/a auth s3cret")
	mustUpdate(t, troll, trollAuth.SessionID)
	noEvent(t, alice.Events, EventUserUpdate, 200*time.Millisecond)
}

func TestHubDisauthRevokesSiblingSessions(t *testing.T) {
	hub, _ := staffHub(t)

	first := connect(hub, "10.0.0.1", &AuthRequest{User: "mod", StaffKey: "s3cret"})
	mustEvent(t, first.Events, EventOnline)
	second := connect(hub, "10.0.0.1", &AuthRequest{User: "mod2", StaffKey: "s3cret"})
	secondAuth := mustEvent(t, second.Events, EventAuthComplete)
	mustEvent(t, second.Events, EventOnline)

	say(first, "/a disauth")
	mustNotice(t, first, "You are no longer authenticated.")

	update := mustUpdate(t, second, secondAuth.SessionID)
	if update.Type != UpdateTagRemove || update.Tag != "staff" {
		t.Fatalf("unexpected update: %+v", update)
	}
	say(second, "/a help")
	mustNotice(t, second, unauthorizedNotice)
}

func TestHubWhitelistAndBlacklist(t *testing.T) {
	hub, backend := staffHub(t)

	staff := connect(hub, "10.0.0.1", &AuthRequest{User: "mod", StaffKey: "s3cret"})
	mustEvent(t, staff.Events, EventOnline)
	target, targetAuth := login(t, hub, "10.0.0.2", "troll")
	addr := identity.Derive("10.0.0.2", false)

	say(staff, "/a blacklist "+targetAuth.SessionID)
	mustNotice(t, target, "You have been banned.")
	waitClosed(t, target)
	if target.CloseReason() != ReasonBanned {
		t.Fatalf("unexpected close reason %q", target.CloseReason())
	}
	mustNotice(t, staff, "User "+addr+" blacklisted.")
	if got := backend.Stored().IPDeny; len(got) != 1 || got[0] != addr {
		t.Fatalf("deny list not persisted: %v", got)
	}

	again := connect(hub, "10.0.0.2", &AuthRequest{User: "troll"})
	if ev := mustEvent(t, again.Events, EventAuthError); ev.Error.Code != ReasonBanned {
		t.Fatalf("expected banned, got %+v", ev.Error)
	}

	say(staff, "/a whitelist "+addr)
	mustNotice(t, staff, "User "+addr+" whitelisted.")
	login(t, hub, "10.0.0.2", "troll")

	say(staff, "/a whitelist "+addr)
	mustNotice(t, staff, "User is already whitelisted.")

	say(staff, "/a blacklist "+identity.Derive("10.0.0.1", false))
	mustNotice(t, staff, "You cannot blacklist yourself.")
}

func TestHubDisconnectCommand(t *testing.T) {
	hub, _ := staffHub(t)

	staff := connect(hub, "10.0.0.1", &AuthRequest{User: "mod", StaffKey: "s3cret"})
	staffAuth := mustEvent(t, staff.Events, EventAuthComplete)
	mustEvent(t, staff.Events, EventOnline)
	alt := connect(hub, "10.0.0.1", &AuthRequest{User: "mod-alt"})
	mustEvent(t, alt.Events, EventOnline)
	target, targetAuth := login(t, hub, "10.0.0.2", "troll")

	say(staff, "/a disconnect "+targetAuth.SessionID)
	mustNotice(t, target, "You have been disconnected by a moderator.")
	waitClosed(t, target)
	if target.CloseReason() != "disconnected" {
		t.Fatalf("unexpected close reason %q", target.CloseReason())
	}
	mustNotice(t, staff, "Disconnected 1 session(s).")

	// The caller's own session is left alone and not counted.
	say(staff, "/a disconnect "+staffAuth.Identity)
	waitClosed(t, alt)
	mustNotice(t, staff, "Disconnected 1 session(s).")
	if n := sessionCount(t, hub); n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}

	say(staff, "/a disconnect nobody")
	mustNotice(t, staff, unknownTargetNotice)
}

func TestHubLoginKeyCommands(t *testing.T) {
	st := store.NewState()
	st.Keys["s3cret"] = &store.KeyEntry{Flags: []string{"staff"}}
	st.LoginKeys = []string{"letmein"}
	mod, backend := openModeration(t, st)
	settings := testSettings()
	settings.RateLimit = 50
	settings.RequireLoginKey = true
	hub := startHub(t, mod, settings)

	staff := connect(hub, "10.0.0.1", &AuthRequest{User: "mod", StaffKey: "s3cret", LoginKey: "letmein"})
	mustEvent(t, staff.Events, EventOnline)

	say(staff, "/a addloginkey guest")
	mustNotice(t, staff, "Login key added.")
	say(staff, "/a addloginkey guest")
	mustNotice(t, staff, "Login key already exists.")
	if got := backend.Stored().LoginKeys; len(got) != 2 {
		t.Fatalf("login key not persisted: %v", got)
	}

	c := connect(hub, "10.0.0.2", &AuthRequest{User: "guest", LoginKey: "guest"})
	mustEvent(t, c.Events, EventAuthComplete)

	say(staff, "/a dellogkey guest")
	mustNotice(t, staff, "Login key removed.")
	say(staff, "/a dellogkey guest")
	mustNotice(t, staff, "Login key does not exist.")

	c = connect(hub, "10.0.0.3", &AuthRequest{User: "late", LoginKey: "guest"})
	if ev := mustEvent(t, c.Events, EventAuthError); ev.Error.Code != ReasonUnknownLoginKey {
		t.Fatalf("expected unknown-login-key, got %+v", ev.Error)
	}
}

func TestHubLockCommands(t *testing.T) {
	hub, backend := staffHub(t)

	staff := connect(hub, "10.0.0.1", &AuthRequest{User: "mod", StaffKey: "s3cret"})
	mustEvent(t, staff.Events, EventOnline)

	say(staff, "/a lock vip hunter2")
	mustNotice(t, staff, "Channel #vip locked.")
	if backend.Stored().ChannelPasswords["vip"] == "" {
		t.Fatal("lock not persisted")
	}

	c := connect(hub, "10.0.0.2", &AuthRequest{User: "alice", Channel: "vip"})
	if ev := mustEvent(t, c.Events, EventAuthError); ev.Error.Code != ReasonChannelLocked {
		t.Fatalf("expected channel-locked, got %+v", ev.Error)
	}
	c = connect(hub, "10.0.0.2", &AuthRequest{User: "alice", Channel: "vip", ChannelPassword: "hunter2"})
	mustEvent(t, c.Events, EventOnline)

	say(staff, "/a unlock vip")
	mustNotice(t, staff, "Channel #vip unlocked.")
	say(staff, "/a unlock vip")
	mustNotice(t, staff, "Channel #vip is not locked.")

	c = connect(hub, "10.0.0.3", &AuthRequest{User: "bob", Channel: "vip"})
	mustEvent(t, c.Events, EventAuthComplete)
}

func TestHubCallOutlivesCancelledContext(t *testing.T) {
	hub := startHub(t, nil, testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	var finished atomic.Bool
	go func() {
		<-started
		cancel()
	}()

	err := hub.do(ctx, func() {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !finished.Load() {
		t.Fatal("do returned while the call was still running")
	}
}
