package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/breakpoint/internal/services/directory"
	"github.com/louisbranch/breakpoint/internal/services/rooms/domain"
	roommemory "github.com/louisbranch/breakpoint/internal/services/rooms/storage/memory"
)

const testRoomID = "ROOM1"

type fakePeer struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (p *fakePeer) send(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// drain returns the frames received since the last drain.
func (p *fakePeer) drain(t *testing.T) []map[string]any {
	t.Helper()
	p.mu.Lock()
	frames := p.frames
	p.frames = nil
	p.mu.Unlock()

	messages := make([]map[string]any, 0, len(frames))
	for _, frame := range frames {
		var msg map[string]any
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("decode frame %q: %v", frame, err)
		}
		messages = append(messages, msg)
	}
	return messages
}

func messageTypes(messages []map[string]any) []string {
	types := make([]string, 0, len(messages))
	for _, msg := range messages {
		t, _ := msg["t"].(string)
		types = append(types, t)
	}
	return types
}

func findMessage(t *testing.T, messages []map[string]any, typ string) map[string]any {
	t.Helper()
	for _, msg := range messages {
		if msg["t"] == typ {
			return msg
		}
	}
	t.Fatalf("no %q message in %v", typ, messageTypes(messages))
	return nil
}

func requireErrorCode(t *testing.T, messages []map[string]any, code string) {
	t.Helper()
	msg := findMessage(t, messages, msgError)
	if msg["code"] != code {
		t.Fatalf("error code = %v, want %q", msg["code"], code)
	}
}

type manualTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped
	t.stopped = true
	return active
}

func (t *manualTimer) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (m *manualTimers) afterFunc(_ time.Duration, f func()) reapTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	timer := &manualTimer{f: f}
	m.timers = append(m.timers, timer)
	return timer
}

func (m *manualTimers) pending() []*manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*manualTimer
	for _, timer := range m.timers {
		if timer.active() {
			pending = append(pending, timer)
		}
	}
	return pending
}

func (m *manualTimers) fireAll() {
	for _, timer := range m.pending() {
		timer.Stop()
		timer.f()
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances one millisecond per call so join order is strict.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fakeReporter struct{}

func (fakeReporter) Report(context.Context, directory.Occupancy) error {
	return nil
}

type testEnv struct {
	hub    *roomHub
	store  *roommemory.Store
	timers *manualTimers
}

type testClient struct {
	session *session
	peer    *fakePeer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithReporter(t, nil)
}

func newTestEnvWithReporter(t *testing.T, reporter occupancyReporter) *testEnv {
	t.Helper()
	store := roommemory.New()
	timers := &manualTimers{}
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	hub := newRoomHub(roomDeps{
		store: store,
		config: roomConfig{
			promotionThreshold: 2,
			idleReapAfter:      time.Hour,
		},
		now: clock.Now,
		draw: func(n int) (int, error) {
			return n - 1, nil
		},
		afterFunc: timers.afterFunc,
	}, reporter)
	return &testEnv{hub: hub, store: store, timers: timers}
}

func (e *testEnv) connect(t *testing.T) *testClient {
	t.Helper()
	p := &fakePeer{}
	s, err := e.hub.connect(context.Background(), testRoomID, p)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return &testClient{session: s, peer: p}
}

func (e *testEnv) send(t *testing.T, client *testClient, raw string) {
	t.Helper()
	msg, err := decodeMessage([]byte(raw))
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	e.hub.dispatch(context.Background(), client.session, msg)
}

func (e *testEnv) hello(t *testing.T, client *testClient, clientID string, name string) {
	t.Helper()
	e.send(t, client, `{"v":1,"t":"hello","clientId":"`+clientID+`","displayName":"`+name+`","avatar":"🍕"}`)
}

func (e *testEnv) disconnect(client *testClient) {
	e.hub.disconnect(context.Background(), client.session)
}

func (e *testEnv) snapshot(t *testing.T) domain.RoomState {
	t.Helper()
	state, err := e.hub.state(context.Background(), testRoomID)
	if err != nil {
		t.Fatalf("room state: %v", err)
	}
	return state
}

func (e *testEnv) storedState(t *testing.T) domain.RoomState {
	t.Helper()
	state, err := loadRoomState(context.Background(), e.store, testRoomID)
	if err != nil {
		t.Fatalf("load stored room: %v", err)
	}
	return state
}

// joinRoom connects and identifies clientIDs in order, then drains peers.
func (e *testEnv) joinRoom(t *testing.T, clientIDs ...string) []*testClient {
	t.Helper()
	clients := make([]*testClient, 0, len(clientIDs))
	for _, clientID := range clientIDs {
		client := e.connect(t)
		e.hello(t, client, clientID, clientID)
		clients = append(clients, client)
	}
	for _, client := range clients {
		client.peer.drain(t)
	}
	return clients
}

const pollActivity = `{"v":1,"t":"activity_start","activity":{"id":"act-1","kind":"quick_poll","status":"open","createdBy":"m1","createdAt":1700000000000,"payload":{"options":[{"id":"p1","name":"Pizza"},{"id":"s1","name":"Sushi"}],"votes":{}}}}`

func TestConnectSendsWelcomeThenState(t *testing.T) {
	env := newTestEnv(t)
	client := env.connect(t)

	messages := client.peer.drain(t)
	types := messageTypes(messages)
	if len(types) != 2 || types[0] != msgWelcome || types[1] != msgState {
		t.Fatalf("types = %v, want [welcome state]", types)
	}
	if messages[0]["sessionId"] != client.session.id {
		t.Fatalf("sessionId = %v, want %q", messages[0]["sessionId"], client.session.id)
	}
	if messages[0]["roomId"] != testRoomID {
		t.Fatalf("roomId = %v, want %q", messages[0]["roomId"], testRoomID)
	}
	if messages[0]["v"] != float64(1) {
		t.Fatalf("v = %v, want 1", messages[0]["v"])
	}
}

func TestHelloFirstMemberBecomesHost(t *testing.T) {
	env := newTestEnv(t)
	first := env.connect(t)
	second := env.connect(t)
	first.peer.drain(t)
	second.peer.drain(t)

	env.hello(t, first, "m1", "Ana")
	messages := second.peer.drain(t)
	upsert := findMessage(t, messages, msgMemberUpsert)
	if upsert["hostClientId"] != "m1" {
		t.Fatalf("hostClientId = %v, want m1", upsert["hostClientId"])
	}
	member, _ := upsert["member"].(map[string]any)
	if member["displayName"] != "Ana" || member["online"] != true {
		t.Fatalf("member = %v, want online Ana", member)
	}
	if types := messageTypes(first.peer.drain(t)); len(types) != 2 || types[1] != msgState {
		t.Fatalf("identifier types = %v, want [member_upsert state]", types)
	}

	env.hello(t, second, "m2", "Bo")
	if host := env.snapshot(t).HostClientID; host != "m1" {
		t.Fatalf("host = %q, want m1", host)
	}
}

func TestHelloValidationOrder(t *testing.T) {
	env := newTestEnv(t)
	client := env.connect(t)
	client.peer.drain(t)

	tests := []struct {
		raw  string
		code string
	}{
		{`{"v":1,"t":"hello","clientId":"bad id","displayName":"","avatar":""}`, "bad_clientId"},
		{`{"v":1,"t":"hello","clientId":"m1","displayName":"","avatar":""}`, "bad_displayName"},
		{`{"v":1,"t":"hello","clientId":"m1","displayName":"Ana","avatar":"123456789"}`, "bad_avatar"},
		{`{"v":1,"t":"hello","clientId":"m1","displayName":"Ana","avatar":"x","busy":"yes"}`, "bad_busy"},
	}
	for _, tt := range tests {
		env.send(t, client, tt.raw)
		requireErrorCode(t, client.peer.drain(t), tt.code)
	}
	if members := env.snapshot(t).Members; len(members) != 0 {
		t.Fatalf("members = %v, want none", members)
	}
}

func TestHelloEvictsOlderSessionForSameClient(t *testing.T) {
	env := newTestEnv(t)
	older := env.joinRoom(t, "m1")[0]
	observer := env.joinRoom(t, "m2")[0]

	newer := env.connect(t)
	env.hello(t, newer, "m1", "m1")

	if !older.peer.isClosed() {
		t.Fatal("expected older session to be closed")
	}
	env.disconnect(older)
	for _, msg := range observer.peer.drain(t) {
		if msg["t"] == msgMemberOffline {
			t.Fatalf("unexpected member_offline after eviction: %v", msg)
		}
	}
	state := env.snapshot(t)
	if !state.Members["m1"].Online {
		t.Fatal("expected m1 to stay online")
	}
	if state.HostClientID != "m1" {
		t.Fatalf("host = %q, want m1", state.HostClientID)
	}
}

func TestDisconnectReassignsHostByJoinOrder(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2", "m3")

	env.disconnect(clients[0])
	offline := findMessage(t, clients[2].peer.drain(t), msgMemberOffline)
	if offline["clientId"] != "m1" {
		t.Fatalf("clientId = %v, want m1", offline["clientId"])
	}
	if offline["hostClientId"] != "m2" {
		t.Fatalf("hostClientId = %v, want m2", offline["hostClientId"])
	}

	env.disconnect(clients[1])
	env.disconnect(clients[2])
	state := env.storedState(t)
	if state.HostClientID != "" {
		t.Fatalf("host = %q, want none", state.HostClientID)
	}
	if state.AnyOnline() {
		t.Fatal("expected nobody online")
	}
}

func TestSetBusyBroadcastsMember(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")

	env.send(t, clients[1], `{"v":1,"t":"set_busy","busy":true}`)
	upsert := findMessage(t, clients[0].peer.drain(t), msgMemberUpsert)
	member, _ := upsert["member"].(map[string]any)
	if member["clientId"] != "m2" || member["busy"] != true {
		t.Fatalf("member = %v, want busy m2", member)
	}

	env.send(t, clients[1], `{"v":1,"t":"set_busy","busy":"no"}`)
	requireErrorCode(t, clients[1].peer.drain(t), "bad_busy")
}

func TestPromotionAfterThirdVote(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2", "m3")

	env.send(t, clients[0], pollActivity)
	if types := messageTypes(clients[1].peer.drain(t)); len(types) != 1 || types[0] != msgActivityUpsert {
		t.Fatalf("start types = %v, want [activity_upsert]", types)
	}
	clients[0].peer.drain(t)
	clients[2].peer.drain(t)

	env.send(t, clients[0], `{"v":1,"t":"vote","activityId":"act-1","vote":{"optionId":"p1"}}`)
	env.send(t, clients[1], `{"v":1,"t":"vote","activityId":"act-1","vote":{"optionId":"p1"}}`)
	for _, msg := range clients[2].peer.drain(t) {
		if msg["t"] != msgActivityUpsert {
			t.Fatalf("unexpected %v before promotion", msg["t"])
		}
	}

	env.send(t, clients[2], `{"v":1,"t":"vote","activityId":"act-1","vote":{"optionId":"p1"}}`)
	messages := clients[0].peer.drain(t)
	types := messageTypes(messages)
	want := []string{msgState, msgActivityUpsert, msgServerNotification}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types = %v, want %v", types, want)
		}
	}
	state, _ := messages[0]["state"].(map[string]any)
	promoted, _ := state["promotedOptions"].([]any)
	if len(promoted) != 1 {
		t.Fatalf("promotedOptions = %v, want one entry", promoted)
	}
	if option, _ := promoted[0].(map[string]any); option["name"] != "Pizza" {
		t.Fatalf("promoted option = %v, want Pizza", promoted[0])
	}
	if got := messages[2]["message"]; got != `"Pizza" has been promoted!` {
		t.Fatalf("notification = %v", got)
	}

	env.send(t, clients[2], `{"v":1,"t":"vote","activityId":"act-1","vote":{"optionId":"p1"}}`)
	for _, msg := range clients[0].peer.drain(t) {
		if msg["t"] == msgState || msg["t"] == msgServerNotification {
			t.Fatalf("option promoted twice: %v", msg["t"])
		}
	}
	if got := len(env.storedState(t).PromotedOptions); got != 1 {
		t.Fatalf("stored promoted options = %d, want 1", got)
	}
}

func TestVoteReplacesEarlierVote(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")
	env.send(t, clients[0], pollActivity)

	env.send(t, clients[1], `{"v":1,"t":"vote","activityId":"act-1","vote":{"optionId":"p1"}}`)
	env.send(t, clients[1], `{"v":1,"t":"vote","activityId":"act-1","vote":{"optionId":"s1"}}`)

	votes, _ := env.snapshot(t).Activity.Payload["votes"].(map[string]any)
	if len(votes) != 1 {
		t.Fatalf("votes = %v, want one", votes)
	}
	vote, _ := votes["m2"].(map[string]any)
	if vote["optionId"] != "s1" {
		t.Fatalf("vote = %v, want s1", vote)
	}
}

func TestActivityUpdateRequiresHost(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")
	env.send(t, clients[0], pollActivity)
	clients[1].peer.drain(t)

	env.send(t, clients[1], `{"v":1,"t":"activity_update","activityId":"act-1","patch":{"title":"mine"}}`)
	requireErrorCode(t, clients[1].peer.drain(t), "not_host")
	if _, ok := env.snapshot(t).Activity.Payload["title"]; ok {
		t.Fatal("expected payload to be unchanged")
	}

	env.send(t, clients[0], `{"v":1,"t":"activity_update","activityId":"act-1","patch":{"title":"Lunch"}}`)
	if title := env.snapshot(t).Activity.Payload["title"]; title != "Lunch" {
		t.Fatalf("title = %v, want Lunch", title)
	}
}

func TestActivityErrors(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")
	host := clients[0]

	tests := []struct {
		name   string
		client *testClient
		raw    string
		code   string
	}{
		{"start by non-host", clients[1], pollActivity, "not_host"},
		{"start with wrong creator", host, `{"v":1,"t":"activity_start","activity":{"id":"a","kind":"quick_poll","status":"open","createdBy":"m2","createdAt":1,"payload":{}}}`, "bad_activity_createdBy"},
		{"update without activity", host, `{"v":1,"t":"activity_update","activityId":"act-1","patch":{}}`, "no_activity"},
		{"update malformed", host, `{"v":1,"t":"activity_update","activityId":"act-1"}`, "bad_activity_update"},
		{"vote malformed", clients[1], `{"v":1,"t":"vote","activityId":"act-1","vote":"p1"}`, "bad_vote"},
		{"spin malformed", host, `{"v":1,"t":"spin"}`, "bad_spin"},
		{"close malformed", host, `{"v":1,"t":"activity_close","result":{}}`, "bad_close"},
		{"add option malformed", clients[1], `{"v":1,"t":"add_poll_option","activityId":"act-1"}`, "bad_option"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.client.peer.drain(t)
			env.send(t, tt.client, tt.raw)
			requireErrorCode(t, tt.client.peer.drain(t), tt.code)
		})
	}
}

func TestSpinRecordsServerDraw(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")

	env.send(t, clients[0], `{"v":1,"t":"activity_start","activity":{"id":"wheel-1","kind":"food_wheel","status":"open","createdBy":"m1","createdAt":1,"payload":{"options":["A","B","C"]}}}`)
	clients[1].peer.drain(t)
	env.send(t, clients[0], `{"v":1,"t":"spin","activityId":"wheel-1"}`)

	messages := clients[1].peer.drain(t)
	if types := messageTypes(messages); len(types) != 2 || types[0] != msgActivityResult || types[1] != msgActivityUpsert {
		t.Fatalf("types = %v, want [activity_result activity_upsert]", types)
	}
	result, _ := messages[0]["result"].(map[string]any)
	if result["winner"] != "C" || result["index"] != float64(2) {
		t.Fatalf("result = %v, want C at 2", result)
	}
	stored, _ := env.storedState(t).Activity.Payload["result"].(map[string]any)
	if stored["winner"] != "C" {
		t.Fatalf("stored result = %v, want C", stored)
	}

	env.send(t, clients[0], `{"v":1,"t":"activity_start","activity":{"id":"wheel-2","kind":"drink_wheel","status":"open","createdBy":"m1","createdAt":1,"payload":{}}}`)
	clients[0].peer.drain(t)
	env.send(t, clients[0], `{"v":1,"t":"spin","activityId":"wheel-2"}`)
	requireErrorCode(t, clients[0].peer.drain(t), "no_options")
}

func TestCloseActivityStoresResult(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")
	env.send(t, clients[0], pollActivity)
	clients[1].peer.drain(t)

	env.send(t, clients[0], `{"v":1,"t":"activity_close","activityId":"act-1","result":{"winner":"Pizza"}}`)
	messages := clients[1].peer.drain(t)
	result := findMessage(t, messages, msgActivityResult)
	if closed, _ := result["result"].(map[string]any); closed["winner"] != "Pizza" {
		t.Fatalf("result = %v, want Pizza", result["result"])
	}
	if status := env.snapshot(t).Activity.Status; status != domain.StatusClosed {
		t.Fatalf("status = %q, want closed", status)
	}

	env.send(t, clients[1], `{"v":1,"t":"vote","activityId":"act-1","vote":{"optionId":"p1"}}`)
	requireErrorCode(t, clients[1].peer.drain(t), "no_activity")
}

func TestCloseAfterSpinReplacesResult(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")
	env.send(t, clients[0], `{"v":1,"t":"activity_start","activity":{"id":"wheel-1","kind":"food_wheel","status":"open","createdBy":"m1","createdAt":1,"payload":{"options":["A","B","C"]}}}`)
	env.send(t, clients[0], `{"v":1,"t":"spin","activityId":"wheel-1"}`)
	clients[1].peer.drain(t)

	env.send(t, clients[0], `{"v":1,"t":"activity_close","activityId":"wheel-1","result":{"winner":"A"}}`)
	message := findMessage(t, clients[1].peer.drain(t), msgActivityResult)
	broadcast, _ := message["result"].(map[string]any)
	if broadcast["winner"] != "A" || len(broadcast) != 1 {
		t.Fatalf("activity_result = %v, want only winner A", broadcast)
	}
	stored, _ := env.storedState(t).Activity.Payload["result"].(map[string]any)
	if stored["winner"] != "A" || len(stored) != 1 {
		t.Fatalf("stored result = %v, want only winner A", stored)
	}
}

func TestCloseIgnoresNonObjectResult(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")
	env.send(t, clients[0], pollActivity)
	clients[1].peer.drain(t)

	env.send(t, clients[0], `{"v":1,"t":"activity_close","activityId":"act-1","result":[1]}`)
	messages := clients[1].peer.drain(t)
	if types := messageTypes(messages); len(types) != 1 || types[0] != msgActivityUpsert {
		t.Fatalf("types = %v, want [activity_upsert]", types)
	}
	if activity := env.snapshot(t).Activity; activity.Status != domain.StatusClosed || activity.Payload["result"] != nil {
		t.Fatalf("activity = %+v, want closed without result", activity)
	}
}

func TestAddPollOptionMatchesStringCandidates(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")
	env.send(t, clients[0], `{"v":1,"t":"activity_start","activity":{"id":"poll-1","kind":"quick_poll","status":"open","createdBy":"m1","createdAt":1,"payload":{"options":["Pizza","Sushi"]}}}`)
	clients[1].peer.drain(t)

	env.send(t, clients[1], `{"v":1,"t":"add_poll_option","activityId":"poll-1","option":{"id":"x","name":"Pizza"}}`)
	if messages := clients[1].peer.drain(t); len(messages) != 0 {
		t.Fatalf("duplicate produced %v", messageTypes(messages))
	}

	env.send(t, clients[1], `{"v":1,"t":"add_poll_option","activityId":"poll-1","option":{"id":"t1","name":"Tacos"}}`)
	findMessage(t, clients[1].peer.drain(t), msgActivityUpsert)
	options, _ := env.storedState(t).Activity.Payload["options"].([]any)
	if len(options) != 3 || options[2] != "Tacos" {
		t.Fatalf("options = %v, want [Pizza Sushi Tacos]", options)
	}
}

func TestAddPollOptionIgnoresDuplicates(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")
	env.send(t, clients[0], pollActivity)
	clients[1].peer.drain(t)

	env.send(t, clients[1], `{"v":1,"t":"add_poll_option","activityId":"act-1","option":{"id":"t1","name":"Tacos"}}`)
	findMessage(t, clients[1].peer.drain(t), msgActivityUpsert)

	env.send(t, clients[1], `{"v":1,"t":"add_poll_option","activityId":"act-1","option":{"id":"t2","name":"Tacos"}}`)
	if messages := clients[1].peer.drain(t); len(messages) != 0 {
		t.Fatalf("duplicate produced %v", messageTypes(messages))
	}
	options, _ := env.snapshot(t).Activity.Payload["options"].([]any)
	if len(options) != 3 {
		t.Fatalf("options = %d, want 3", len(options))
	}

	env.send(t, clients[0], `{"v":1,"t":"activity_start","activity":{"id":"w","kind":"food_wheel","status":"open","createdBy":"m1","createdAt":1,"payload":{"options":["A"]}}}`)
	clients[1].peer.drain(t)
	env.send(t, clients[1], `{"v":1,"t":"add_poll_option","activityId":"w","option":{"id":"x"}}`)
	requireErrorCode(t, clients[1].peer.drain(t), "wrong_kind")
}

func TestRequiresIdentificationAndKnownType(t *testing.T) {
	env := newTestEnv(t)
	client := env.connect(t)
	client.peer.drain(t)

	env.send(t, client, `{"v":1,"t":"vote","activityId":"act-1","vote":{"optionId":"p1"}}`)
	requireErrorCode(t, client.peer.drain(t), "not_identified")

	env.send(t, client, `{"v":1,"t":"teleport"}`)
	requireErrorCode(t, client.peer.drain(t), "unknown_type")
	if client.peer.isClosed() {
		t.Fatal("unknown_type must not close the connection")
	}
}

func TestPersistFailureLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")

	env.store.SetFailSaves(true)
	env.send(t, clients[0], pollActivity)
	requireErrorCode(t, clients[0].peer.drain(t), "internal")
	if messages := clients[1].peer.drain(t); len(messages) != 0 {
		t.Fatalf("unexpected broadcast %v", messageTypes(messages))
	}
	if env.snapshot(t).Activity != nil {
		t.Fatal("expected no activity after failed persist")
	}

	env.store.SetFailSaves(false)
	env.send(t, clients[0], pollActivity)
	if env.storedState(t).Activity == nil {
		t.Fatal("expected activity after recovery")
	}
}

func TestIdleReaperResetsRoom(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1")
	env.send(t, clients[0], pollActivity)

	env.disconnect(clients[0])
	if got := len(env.timers.pending()); got != 1 {
		t.Fatalf("pending reap timers = %d, want 1", got)
	}
	env.timers.fireAll()

	state := env.storedState(t)
	if len(state.Members) != 0 || state.Activity != nil || state.HostClientID != "" {
		t.Fatalf("state after reap = %+v, want empty", state)
	}
	if state.RoomID != testRoomID {
		t.Fatalf("roomId = %q, want %q", state.RoomID, testRoomID)
	}
	env.hub.mu.Lock()
	_, resident := env.hub.rooms[testRoomID]
	env.hub.mu.Unlock()
	if resident {
		t.Fatal("expected reaped coordinator to be released")
	}

	client := env.connect(t)
	env.hello(t, client, "m2", "m2")
	if host := env.snapshot(t).HostClientID; host != "m2" {
		t.Fatalf("host after reap = %q, want m2", host)
	}
}

func TestIdleReaperSkipsReturningMember(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1")
	env.disconnect(clients[0])
	timers := env.timers.pending()
	if len(timers) != 1 {
		t.Fatalf("pending reap timers = %d, want 1", len(timers))
	}

	env.joinRoom(t, "m1")
	if timers[0].active() {
		t.Fatal("expected reap timer to be stopped")
	}
	timers[0].f()

	if !env.snapshot(t).Members["m1"].Online {
		t.Fatal("expected m1 to survive a superseded reap")
	}
}

func TestReloadKeepsSessionsAttached(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")

	if err := env.hub.reload(context.Background(), testRoomID); err != nil {
		t.Fatalf("reload: %v", err)
	}
	findMessage(t, clients[0].peer.drain(t), msgState)

	env.send(t, clients[1], `{"v":1,"t":"set_busy","busy":true}`)
	upsert := findMessage(t, clients[0].peer.drain(t), msgMemberUpsert)
	if member, _ := upsert["member"].(map[string]any); member["busy"] != true {
		t.Fatalf("member = %v, want busy", member)
	}
	state := env.snapshot(t)
	if state.HostClientID != "m1" || !state.Members["m1"].Online || !state.Members["m2"].Online {
		t.Fatalf("state after reload = %+v", state)
	}

	env.disconnect(clients[0])
	if host := env.snapshot(t).HostClientID; host != "m2" {
		t.Fatalf("host = %q, want m2", host)
	}
}

func TestColdLoadMarksMembersOffline(t *testing.T) {
	env := newTestEnv(t)
	stale := domain.NewRoomState(testRoomID)
	stale.Identify(domain.Identity{ClientID: "m1", DisplayName: "Ana", Avatar: "a"}, 1)
	blob, err := domain.Encode(stale)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := env.store.SaveRoom(context.Background(), testRoomID, blob); err != nil {
		t.Fatalf("seed: %v", err)
	}

	client := env.connect(t)
	msg := findMessage(t, client.peer.drain(t), msgState)
	state, _ := msg["state"].(map[string]any)
	members, _ := state["members"].(map[string]any)
	member, _ := members["m1"].(map[string]any)
	if member["online"] != false {
		t.Fatalf("member = %v, want offline", member)
	}
	if _, ok := state["hostClientId"]; ok {
		t.Fatalf("hostClientId = %v, want none", state["hostClientId"])
	}

	env.hello(t, client, "m1", "Ana")
	if host := env.snapshot(t).HostClientID; host != "m1" {
		t.Fatalf("host = %q, want m1", host)
	}
}

func TestJoinRequestFlow(t *testing.T) {
	env := newTestEnv(t)
	host := env.joinRoom(t, "m1")[0]
	guest := env.connect(t)
	guest.peer.drain(t)

	env.send(t, guest, `{"v":1,"t":"request_join","displayName":"Guest","avatar":"g"}`)
	request := findMessage(t, host.peer.drain(t), msgJoinRequest)
	if request["sessionId"] != guest.session.id || request["displayName"] != "Guest" {
		t.Fatalf("join_request = %v", request)
	}

	env.send(t, host, `{"v":1,"t":"approve_join","sessionId":"`+guest.session.id+`"}`)
	approved := findMessage(t, guest.peer.drain(t), msgJoinApproved)
	if approved["roomId"] != testRoomID {
		t.Fatalf("roomId = %v, want %q", approved["roomId"], testRoomID)
	}

	env.send(t, host, `{"v":1,"t":"deny_join","sessionId":"`+guest.session.id+`"}`)
	requireErrorCode(t, host.peer.drain(t), "no_request")

	env.send(t, host, `{"v":1,"t":"deny_join"}`)
	requireErrorCode(t, host.peer.drain(t), "bad_join_decision")

	env.send(t, host, `{"v":1,"t":"request_join","displayName":"Again","avatar":"a"}`)
	requireErrorCode(t, host.peer.drain(t), "already_identified")
}

func TestJoinRequestDenied(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1", "m2")
	guest := env.connect(t)
	guest.peer.drain(t)

	env.send(t, guest, `{"v":1,"t":"request_join","displayName":"Guest","avatar":"g"}`)
	if messages := clients[1].peer.drain(t); len(messages) != 0 {
		t.Fatalf("non-host received %v", messageTypes(messages))
	}
	env.send(t, clients[1], `{"v":1,"t":"deny_join","sessionId":"`+guest.session.id+`"}`)
	requireErrorCode(t, clients[1].peer.drain(t), "not_host")

	env.send(t, clients[0], `{"v":1,"t":"deny_join","sessionId":"`+guest.session.id+`"}`)
	findMessage(t, guest.peer.drain(t), msgJoinDenied)
}

func TestJoinRequestWithoutHost(t *testing.T) {
	env := newTestEnv(t)
	guest := env.connect(t)
	guest.peer.drain(t)

	env.send(t, guest, `{"v":1,"t":"request_join","displayName":"Guest","avatar":"g"}`)
	requireErrorCode(t, guest.peer.drain(t), "no_host")

	env.send(t, guest, `{"v":1,"t":"request_join","displayName":"","avatar":"g"}`)
	requireErrorCode(t, guest.peer.drain(t), "bad_request_join")
}

func TestReapNowRefusesOccupiedRoom(t *testing.T) {
	env := newTestEnv(t)
	clients := env.joinRoom(t, "m1")

	if err := env.hub.reap(context.Background(), testRoomID); err != errRoomOccupied {
		t.Fatalf("reap err = %v, want %v", err, errRoomOccupied)
	}
	env.disconnect(clients[0])
	if err := env.hub.reap(context.Background(), testRoomID); err != nil {
		t.Fatalf("reap: %v", err)
	}
	if members := env.storedState(t).Members; len(members) != 0 {
		t.Fatalf("members = %v, want none", members)
	}
}

func TestOccupancyReportsQueued(t *testing.T) {
	env := newTestEnvWithReporter(t, fakeReporter{})
	env.joinRoom(t, "m1")

	var last directory.Occupancy
	for {
		select {
		case occupancy := <-env.hub.reports:
			last = occupancy
			continue
		default:
		}
		break
	}
	if last.RoomID != testRoomID || last.OnlineCount != 1 || last.HostName != "m1" {
		t.Fatalf("occupancy = %+v", last)
	}
}
