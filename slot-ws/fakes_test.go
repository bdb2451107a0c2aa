package slotws

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	slotevents "github.com/classmeet/video-slots/slot-events"
	"github.com/classmeet/video-slots/slot-ws/connectiondao"
	"github.com/classmeet/video-slots/slot-ws/slotdao"
)

// fakeDirectory is an in-memory ConnectionStore.
type fakeDirectory struct {
	mu    sync.Mutex
	conns map[string]connectiondao.Connection
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{conns: map[string]connectiondao.Connection{}}
}

func (f *fakeDirectory) Put(_ context.Context, conn connectiondao.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[conn.ConnectionID] = conn
	return nil
}

func (f *fakeDirectory) Get(_ context.Context, connectionID string) (*connectiondao.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn, ok := f.conns[connectionID]; ok {
		return &conn, nil
	}
	return nil, nil
}

func (f *fakeDirectory) Delete(_ context.Context, connectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, connectionID)
	return nil
}

func (f *fakeDirectory) FindModerator(_ context.Context, meetingID string) (*connectiondao.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		if conn.MeetingID == meetingID && conn.IsModerator() {
			conn := conn
			return &conn, nil
		}
	}
	return nil, nil
}

func (f *fakeDirectory) FindParticipant(_ context.Context, meetingID, participantID string) (*connectiondao.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *connectiondao.Connection
	for _, conn := range f.conns {
		if conn.MeetingID != meetingID || conn.ParticipantID != participantID {
			continue
		}
		conn := conn
		if latest == nil || conn.ConnectedAt > latest.ConnectedAt {
			latest = &conn
		}
	}
	return latest, nil
}

// fakeLedger is an in-memory SlotStore with the same conditional-write
// semantics as the DynamoDB DAO.
type fakeLedger struct {
	mu      sync.Mutex
	records map[string]map[string]slotdao.SlotRecord // meeting -> participant -> record
	counts  map[string]int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		records: map[string]map[string]slotdao.SlotRecord{},
		counts:  map[string]int64{},
	}
}

func (f *fakeLedger) Get(_ context.Context, meetingID, participantID string) (*slotdao.SlotRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[meetingID][participantID]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (f *fakeLedger) ListByMeeting(_ context.Context, meetingID string) ([]slotdao.SlotRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var records []slotdao.SlotRecord
	for _, rec := range f.records[meetingID] {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].GrantedAt != records[j].GrantedAt {
			return records[i].GrantedAt < records[j].GrantedAt
		}
		return records[i].ParticipantID < records[j].ParticipantID
	})
	return records, nil
}

func (f *fakeLedger) Grant(_ context.Context, rec slotdao.SlotRecord, capacity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.MeetingID][rec.ParticipantID]; ok {
		return slotdao.ErrAlreadyExists
	}
	if rec.IsModerator() {
		rec.State = slotdao.StateActive
		f.put(rec)
		return nil
	}
	if capacity > 0 && f.counts[rec.MeetingID] >= int64(capacity) {
		return slotdao.ErrCapacityFull
	}
	rec.State = slotdao.StateActive
	f.put(rec)
	f.counts[rec.MeetingID]++
	return nil
}

func (f *fakeLedger) Pend(_ context.Context, rec slotdao.SlotRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.MeetingID][rec.ParticipantID]; ok {
		return slotdao.ErrAlreadyExists
	}
	rec.State = slotdao.StatePending
	f.put(rec)
	return nil
}

func (f *fakeLedger) Promote(_ context.Context, meetingID, participantID, connectionID string, grantedAt int64, capacity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[meetingID][participantID]
	if !ok || rec.State != slotdao.StatePending {
		return slotdao.ErrNotPending
	}
	if capacity > 0 && f.counts[meetingID] >= int64(capacity) {
		return slotdao.ErrCapacityFull
	}
	rec.State = slotdao.StateActive
	rec.GrantedAt = grantedAt
	rec.ConnectionID = connectionID
	f.put(rec)
	f.counts[meetingID]++
	return nil
}

func (f *fakeLedger) Demote(_ context.Context, meetingID, participantID string, queuedAt int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[meetingID][participantID]
	if !ok || rec.State != slotdao.StateActive {
		return slotdao.ErrNotActive
	}
	rec.State = slotdao.StatePending
	rec.GrantedAt = queuedAt
	f.put(rec)
	f.counts[meetingID]--
	return nil
}

func (f *fakeLedger) Release(_ context.Context, meetingID, participantID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[meetingID][participantID]
	if !ok {
		return "", nil
	}
	delete(f.records[meetingID], participantID)
	if rec.State == slotdao.StateActive && !rec.IsModerator() {
		f.counts[meetingID]--
	}
	return rec.State, nil
}

func (f *fakeLedger) put(rec slotdao.SlotRecord) {
	if f.records[rec.MeetingID] == nil {
		f.records[rec.MeetingID] = map[string]slotdao.SlotRecord{}
	}
	f.records[rec.MeetingID][rec.ParticipantID] = rec
}

func (f *fakeLedger) state(meetingID, participantID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[meetingID][participantID].State
}

func (f *fakeLedger) count(meetingID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[meetingID]
}

// fakeNotify records every posted message, keyed by connection.
type fakeNotify struct {
	mu    sync.Mutex
	posts []posted
}

type posted struct {
	ConnectionID string
	Msg          Message
}

func (f *fakeNotify) Post(_ context.Context, conn connectiondao.Connection, msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, posted{ConnectionID: conn.ConnectionID, Msg: msg})
}

func (f *fakeNotify) typesTo(connectionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, p := range f.posts {
		if p.ConnectionID == connectionID {
			types = append(types, p.Msg.Type)
		}
	}
	return types
}

func (f *fakeNotify) lastTo(connectionID string) *Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.posts) - 1; i >= 0; i-- {
		if f.posts[i].ConnectionID == connectionID {
			msg := f.posts[i].Msg
			return &msg
		}
	}
	return nil
}

// fakeSink records emitted audit events.
type fakeSink struct {
	mu     sync.Mutex
	events []slotevents.Event
}

func (f *fakeSink) Emit(_ context.Context, event slotevents.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeSink) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var actions []string
	for _, event := range f.events {
		actions = append(actions, event.Action)
	}
	return actions
}

type harness struct {
	controller *Controller
	directory  *fakeDirectory
	ledger     *fakeLedger
	notify     *fakeNotify
	sink       *fakeSink
	clock      *fakeClock
}

// fakeClock hands out strictly increasing timestamps so grant order is
// deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newHarness(policy Policy) *harness {
	var (
		directory = newFakeDirectory()
		ledger    = newFakeLedger()
		notify    = &fakeNotify{}
		sink      = &fakeSink{}
		clock     = &fakeClock{now: time.Unix(1700000000, 0)}
	)
	return &harness{
		controller: &Controller{
			Connections: directory,
			Slots:       ledger,
			Notify:      notify,
			Events:      sink,
			Policy:      policy,
			Logger:      zerolog.Nop(),
			Clock:       clock.Now,
		},
		directory: directory,
		ledger:    ledger,
		notify:    notify,
		sink:      sink,
		clock:     clock,
	}
}

func (h *harness) connect(meetingID, participantID, role string) connectiondao.Connection {
	conn := connectiondao.Connection{
		ConnectionID:  "conn-" + participantID,
		MeetingID:     meetingID,
		ParticipantID: participantID,
		Role:          role,
		ConnectedAt:   h.clock.Now().Unix(),
	}
	_ = h.directory.Put(context.Background(), conn)
	return conn
}
