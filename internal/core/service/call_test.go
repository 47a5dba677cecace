package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/port"
)

var assertAnError = errors.New("induced failure")

// fakeChannel is an in-test signaling store for one subscriber. Tests
// drive deliveries by hand so races are deterministic.
type fakeChannel struct {
	mu         sync.Mutex
	published  []domain.Invitation
	deleted    []domain.InvitationID
	purges     int
	sub        func(port.InvitationEvent)
	publishErr error
}

func (c *fakeChannel) PublishInvitation(_ context.Context, inv domain.Invitation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, inv)
	return nil
}

func (c *fakeChannel) SubscribeInvitations(_ context.Context, _ domain.UserID, fn func(port.InvitationEvent)) (func(), error) {
	c.mu.Lock()
	c.sub = fn
	c.mu.Unlock()
	return func() {}, nil
}

func (c *fakeChannel) DeleteInvitation(_ context.Context, id domain.InvitationID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *fakeChannel) DeleteInvitationsFor(_ context.Context, _ domain.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purges++
	return nil
}

func (c *fakeChannel) deliverAdded(inv domain.Invitation) {
	c.mu.Lock()
	fn := c.sub
	c.mu.Unlock()
	fn(port.InvitationEvent{Kind: port.InvitationAdded, Invitation: inv})
}

func (c *fakeChannel) deliverRemoved(inv domain.Invitation) {
	c.mu.Lock()
	fn := c.sub
	c.mu.Unlock()
	fn(port.InvitationEvent{Kind: port.InvitationRemoved, Invitation: inv})
}

func (c *fakeChannel) publishedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *fakeChannel) lastPublished() domain.Invitation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published[len(c.published)-1]
}

func (c *fakeChannel) deletedIDs() []domain.InvitationID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.InvitationID, len(c.deleted))
	copy(out, c.deleted)
	return out
}

// fakeMedia is a scriptable media provider. Gates let tests hold a dial
// step open while racing intents against it.
type fakeMedia struct {
	mu          sync.Mutex
	events      chan port.MediaEvent
	permErr     error
	credErr     error
	joinErr     error
	acquireGate chan struct{}
	joinGate    chan struct{}
	joins       int
	leaves      int
	joinedRooms []domain.RoomID
	joinedCh    chan domain.RoomID
	muted       bool
	video       bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		events:   make(chan port.MediaEvent, 8),
		joinedCh: make(chan domain.RoomID, 8),
	}
}

func (m *fakeMedia) CheckMediaPermission(_ context.Context, _ domain.CallKind) error {
	return m.permErr
}

func (m *fakeMedia) AcquireCredential(ctx context.Context, _ domain.UserID, _ domain.RoomID) (domain.Credential, error) {
	if m.acquireGate != nil {
		select {
		case <-m.acquireGate:
		case <-ctx.Done():
			return domain.Credential{}, ctx.Err()
		}
	}
	if m.credErr != nil {
		return domain.Credential{}, domain.NewCallError(domain.FailureCredentialUnavailable, m.credErr)
	}
	return domain.Credential{Token: "tok"}, nil
}

func (m *fakeMedia) JoinSession(ctx context.Context, roomID domain.RoomID, _ domain.Credential) error {
	if m.joinGate != nil {
		select {
		case <-m.joinGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.joinErr != nil {
		return m.joinErr
	}
	m.mu.Lock()
	m.joins++
	m.joinedRooms = append(m.joinedRooms, roomID)
	m.mu.Unlock()
	m.joinedCh <- roomID
	return nil
}

func (m *fakeMedia) PublishLocalMedia(_ context.Context, _ domain.CallKind) error {
	return nil
}

func (m *fakeMedia) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

func (m *fakeMedia) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	m.video = enabled
	m.mu.Unlock()
}

func (m *fakeMedia) LeaveSession(_ context.Context) error {
	m.mu.Lock()
	m.leaves++
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) Events() <-chan port.MediaEvent {
	return m.events
}

func (m *fakeMedia) counts() (joins, leaves int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joins, m.leaves
}

func (m *fakeMedia) waitJoin(t *testing.T) domain.RoomID {
	t.Helper()
	select {
	case room := <-m.joinedCh:
		return room
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for join")
		return ""
	}
}

type fakePresenter struct {
	states       chan domain.Snapshot
	mu           sync.Mutex
	attachLocal  int
	attachRemote int
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{states: make(chan domain.Snapshot, 32)}
}

func (p *fakePresenter) PresentState(snap domain.Snapshot) {
	p.states <- snap
}

func (p *fakePresenter) AttachLocalMedia() {
	p.mu.Lock()
	p.attachLocal++
	p.mu.Unlock()
}

func (p *fakePresenter) AttachRemoteMedia() {
	p.mu.Lock()
	p.attachRemote++
	p.mu.Unlock()
}

func (p *fakePresenter) waitState(t *testing.T, want domain.CallState) domain.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-p.states:
			if snap.State == want {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

type memoryLog struct {
	mu   sync.Mutex
	recs []domain.CallRecord
}

func (l *memoryLog) Save(_ context.Context, rec domain.CallRecord) error {
	l.mu.Lock()
	l.recs = append(l.recs, rec)
	l.mu.Unlock()
	return nil
}

func (l *memoryLog) Recent(_ context.Context, _ int) ([]domain.CallRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.CallRecord, len(l.recs))
	copy(out, l.recs)
	return out, nil
}

type fixture struct {
	session *CallSession
	channel *fakeChannel
	media   *fakeMedia
	pres    *fakePresenter
	log     *memoryLog
}

func newFixture(t *testing.T, self domain.Peer, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		channel: &fakeChannel{},
		media:   newFakeMedia(),
		pres:    newFakePresenter(),
		log:     &memoryLog{},
	}
	f.session = NewCallSession(self, cfg, Deps{
		Signaling: f.channel,
		Media:     f.media,
		Presenter: f.pres,
		CallLog:   f.log,
	})
	require.NoError(t, f.session.Start(context.Background()))
	t.Cleanup(f.session.Stop)
	return f
}

var (
	alice = domain.Peer{ID: domain.UserID("alice"), DisplayName: "Alice"}
	bob   = domain.Peer{ID: domain.UserID("bob"), DisplayName: "Bob"}
)

func inboundInvitation(t *testing.T, from domain.Peer, to domain.UserID, kind domain.CallKind) domain.Invitation {
	t.Helper()
	inv, err := domain.NewInvitation(from, to, kind)
	require.NoError(t, err)
	return inv
}

func TestScenarioA_OutgoingCallHappyPath(t *testing.T) {
	f := newFixture(t, alice, Config{})
	ctx := context.Background()

	require.NoError(t, f.session.StartCall(ctx, bob, domain.KindVoice))
	out := f.pres.waitState(t, domain.StateOutgoing)
	assert.Equal(t, domain.KindVoice, out.Kind)
	assert.Equal(t, bob.ID, out.Peer.ID)

	room := f.media.waitJoin(t)
	assert.Equal(t, domain.DeriveRoomID(alice.ID, bob.ID), room)

	// Callee shows up in the room.
	f.media.events <- port.MediaEvent{Kind: port.MediaRemoteJoined}
	active := f.pres.waitState(t, domain.StateActive)
	assert.Equal(t, room, active.RoomID)

	require.Equal(t, 1, f.channel.publishedCount())
	inv := f.channel.lastPublished()
	assert.Equal(t, alice.ID, inv.From)
	assert.Equal(t, bob.ID, inv.To)
	assert.Contains(t, f.channel.deletedIDs(), inv.ID)

	require.NoError(t, f.session.EndCall(ctx))
	idle := f.pres.waitState(t, domain.StateIdle)
	assert.Equal(t, domain.EndCompleted, idle.Reason)
	assert.NoError(t, idle.Err)

	joins, leaves := f.media.counts()
	assert.Equal(t, 1, joins)
	assert.Equal(t, 1, leaves)
}

func TestScenarioB_AcceptWithCredentialFailure(t *testing.T) {
	f := newFixture(t, bob, Config{})
	f.media.credErr = assertAnError

	inv := inboundInvitation(t, alice, bob.ID, domain.KindVoice)
	f.channel.deliverAdded(inv)
	in := f.pres.waitState(t, domain.StateIncoming)
	assert.Equal(t, alice.ID, in.Peer.ID)

	require.NoError(t, f.session.AcceptCall(context.Background()))

	idle := f.pres.waitState(t, domain.StateIdle)
	assert.Equal(t, domain.EndFailed, idle.Reason)
	assert.Equal(t, domain.FailureCredentialUnavailable, domain.CodeOf(idle.Err))

	assert.Contains(t, f.channel.deletedIDs(), inv.ID)
	joins, leaves := f.media.counts()
	assert.Zero(t, joins)
	assert.Zero(t, leaves)
}

func TestScenarioC_CancelBeforeJoin(t *testing.T) {
	f := newFixture(t, alice, Config{})
	f.media.acquireGate = make(chan struct{}) // never opened: dial hangs in acquire
	ctx := context.Background()

	require.NoError(t, f.session.StartCall(ctx, bob, domain.KindVoice))
	f.pres.waitState(t, domain.StateOutgoing)

	require.NoError(t, f.session.EndCall(ctx))
	idle := f.pres.waitState(t, domain.StateIdle)
	assert.Equal(t, domain.EndCancelled, idle.Reason)

	inv := f.channel.lastPublished()
	assert.Contains(t, f.channel.deletedIDs(), inv.ID)
	joins, leaves := f.media.counts()
	assert.Zero(t, joins)
	assert.Zero(t, leaves)
}

func TestScenarioD_MutualCallCollapses(t *testing.T) {
	fa := newFixture(t, alice, Config{})
	fb := newFixture(t, bob, Config{})
	ctx := context.Background()

	require.NoError(t, fa.session.StartCall(ctx, bob, domain.KindVoice))
	require.NoError(t, fb.session.StartCall(ctx, alice, domain.KindVoice))
	fa.pres.waitState(t, domain.StateOutgoing)
	fb.pres.waitState(t, domain.StateOutgoing)

	invAB := fa.channel.lastPublished()
	invBA := fb.channel.lastPublished()

	// Cross-deliver: each party observes the other's invitation while
	// still dialing.
	fa.channel.deliverAdded(invBA)
	fb.channel.deliverAdded(invAB)

	roomA := fa.media.waitJoin(t)
	roomB := fb.media.waitJoin(t)
	assert.Equal(t, roomA, roomB, "both parties must join the same room")

	fa.media.events <- port.MediaEvent{Kind: port.MediaRemoteJoined}
	fb.media.events <- port.MediaEvent{Kind: port.MediaRemoteJoined}
	fa.pres.waitState(t, domain.StateActive)
	fb.pres.waitState(t, domain.StateActive)

	joinsA, _ := fa.media.counts()
	joinsB, _ := fb.media.counts()
	assert.Equal(t, 1, joinsA, "never a second join")
	assert.Equal(t, 1, joinsB, "never a second join")

	// alice has the smaller id: she yields the caller role and retracts
	// her record plus bob's.
	assert.Contains(t, fa.channel.deletedIDs(), invAB.ID)
	assert.Contains(t, fa.channel.deletedIDs(), invBA.ID)
}

func TestEndCallIdempotent(t *testing.T) {
	f := newFixture(t, alice, Config{})
	ctx := context.Background()

	require.NoError(t, f.session.StartCall(ctx, bob, domain.KindVoice))
	f.media.waitJoin(t)
	f.media.events <- port.MediaEvent{Kind: port.MediaRemoteJoined}
	f.pres.waitState(t, domain.StateActive)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.session.EndCall(ctx))
	}
	f.pres.waitState(t, domain.StateIdle)

	joins, leaves := f.media.counts()
	assert.Equal(t, 1, joins)
	assert.Equal(t, 1, leaves, "exactly one leave per successful join")

	// Only one idle transition was presented.
	idleSeen := 1
	for {
		select {
		case snap := <-f.pres.states:
			if snap.State == domain.StateIdle {
				idleSeen++
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, idleSeen)
}

func TestEndCallFromIdleIsNoOp(t *testing.T) {
	f := newFixture(t, alice, Config{})
	ctx := context.Background()

	require.NoError(t, f.session.EndCall(ctx))
	require.NoError(t, f.session.EndCall(ctx))

	snap, err := f.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, snap.State)
	_, leaves := f.media.counts()
	assert.Zero(t, leaves)
}

func TestEndCallRacesInFlightJoin(t *testing.T) {
	f := newFixture(t, alice, Config{})
	f.media.joinGate = make(chan struct{})
	ctx := context.Background()

	require.NoError(t, f.session.StartCall(ctx, bob, domain.KindVoice))
	f.pres.waitState(t, domain.StateOutgoing)

	require.NoError(t, f.session.EndCall(ctx))
	idle := f.pres.waitState(t, domain.StateIdle)
	assert.Equal(t, domain.EndCancelled, idle.Reason)

	// The join completes only after the hangup; if it slips through the
	// cancelled context the session must still release it.
	close(f.media.joinGate)

	require.Eventually(t, func() bool {
		joins, leaves := f.media.counts()
		return joins == leaves
	}, 2*time.Second, 10*time.Millisecond, "leave must match a join that completed after hangup")

	joins, leaves := f.media.counts()
	assert.LessOrEqual(t, joins, 1)
	assert.Equal(t, joins, leaves)
}

func TestBusySemantics(t *testing.T) {
	carol := domain.Peer{ID: domain.UserID("carol"), DisplayName: "Carol"}
	f := newFixture(t, bob, Config{})
	ctx := context.Background()

	inv := inboundInvitation(t, alice, bob.ID, domain.KindVoice)
	f.channel.deliverAdded(inv)
	f.pres.waitState(t, domain.StateIncoming)

	// A second caller while ringing: ignored.
	f.channel.deliverAdded(inboundInvitation(t, carol, bob.ID, domain.KindVideo))
	snap, err := f.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIncoming, snap.State)
	assert.Equal(t, alice.ID, snap.Peer.ID)

	// Starting a call while ringing: refused.
	assert.ErrorIs(t, f.session.StartCall(ctx, carol, domain.KindVoice), domain.ErrBusy)

	require.NoError(t, f.session.AcceptCall(ctx))
	f.pres.waitState(t, domain.StateActive)

	// A caller during an active call: ignored.
	f.channel.deliverAdded(inboundInvitation(t, carol, bob.ID, domain.KindVoice))
	snap, err = f.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, snap.State)
}

func TestStaleInvitationIgnored(t *testing.T) {
	f := newFixture(t, bob, Config{})
	ctx := context.Background()

	inv := inboundInvitation(t, alice, bob.ID, domain.KindVoice)
	f.channel.deliverAdded(inv)
	f.pres.waitState(t, domain.StateIncoming)

	require.NoError(t, f.session.EndCall(ctx))
	f.pres.waitState(t, domain.StateIdle)

	// The store re-delivers the record we already declined.
	f.channel.deliverAdded(inv)

	snap, err := f.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, snap.State)

	// A removal for an unknown record is equally inert.
	f.channel.deliverRemoved(inboundInvitation(t, alice, bob.ID, domain.KindVideo))
	snap, err = f.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, snap.State)
}

func TestDuplicateRecordForSamePairWhileRinging(t *testing.T) {
	f := newFixture(t, bob, Config{})
	ctx := context.Background()

	inv := inboundInvitation(t, alice, bob.ID, domain.KindVoice)
	f.channel.deliverAdded(inv)
	f.pres.waitState(t, domain.StateIncoming)

	// The store delivers a second, fresh record for the same pair. It
	// derives the same room, so it is the call we are already ringing on,
	// not a new one.
	dup := inboundInvitation(t, alice, bob.ID, domain.KindVoice)
	require.Equal(t, inv.RoomID, dup.RoomID)
	require.NotEqual(t, inv.ID, dup.ID)
	f.channel.deliverAdded(dup)

	snap, err := f.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIncoming, snap.State)
	assert.Equal(t, alice.ID, snap.Peer.ID)

	// Accepting still resolves the record that started the ring.
	require.NoError(t, f.session.AcceptCall(ctx))
	f.pres.waitState(t, domain.StateActive)
	assert.Contains(t, f.channel.deletedIDs(), inv.ID)
	joins, _ := f.media.counts()
	assert.Equal(t, 1, joins)
}

func TestRemoteCancelStopsRinging(t *testing.T) {
	f := newFixture(t, bob, Config{})

	inv := inboundInvitation(t, alice, bob.ID, domain.KindVideo)
	f.channel.deliverAdded(inv)
	f.pres.waitState(t, domain.StateIncoming)

	f.channel.deliverRemoved(inv)
	idle := f.pres.waitState(t, domain.StateIdle)
	assert.Equal(t, domain.EndCancelled, idle.Reason)

	joins, leaves := f.media.counts()
	assert.Zero(t, joins)
	assert.Zero(t, leaves)
}

func TestDeclineDeletesInvitationWithoutJoin(t *testing.T) {
	f := newFixture(t, bob, Config{})
	ctx := context.Background()

	inv := inboundInvitation(t, alice, bob.ID, domain.KindVoice)
	f.channel.deliverAdded(inv)
	f.pres.waitState(t, domain.StateIncoming)

	require.NoError(t, f.session.EndCall(ctx))
	idle := f.pres.waitState(t, domain.StateIdle)
	assert.Equal(t, domain.EndDeclined, idle.Reason)

	assert.Contains(t, f.channel.deletedIDs(), inv.ID)
	joins, _ := f.media.counts()
	assert.Zero(t, joins)
}

func TestRingTimeoutReturnsNoAnswer(t *testing.T) {
	f := newFixture(t, alice, Config{RingTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, f.session.StartCall(ctx, bob, domain.KindVoice))
	f.media.waitJoin(t)

	idle := f.pres.waitState(t, domain.StateIdle)
	assert.Equal(t, domain.EndNoAnswer, idle.Reason)

	inv := f.channel.lastPublished()
	assert.Contains(t, f.channel.deletedIDs(), inv.ID)
	joins, leaves := f.media.counts()
	assert.Equal(t, joins, leaves)
}

func TestJoinFailureTearsDown(t *testing.T) {
	f := newFixture(t, alice, Config{})
	f.media.joinErr = assertAnError
	ctx := context.Background()

	require.NoError(t, f.session.StartCall(ctx, bob, domain.KindVoice))
	idle := f.pres.waitState(t, domain.StateIdle)
	assert.Equal(t, domain.EndFailed, idle.Reason)
	assert.Equal(t, domain.FailureJoin, domain.CodeOf(idle.Err))

	inv := f.channel.lastPublished()
	assert.Contains(t, f.channel.deletedIDs(), inv.ID)
	_, leaves := f.media.counts()
	assert.Zero(t, leaves)
}

func TestPermissionDeniedStaysIdle(t *testing.T) {
	f := newFixture(t, alice, Config{})
	f.media.permErr = assertAnError
	ctx := context.Background()

	err := f.session.StartCall(ctx, bob, domain.KindVideo)
	assert.Equal(t, domain.FailurePermissionDenied, domain.CodeOf(err))

	snap, snapErr := f.session.Snapshot(ctx)
	require.NoError(t, snapErr)
	assert.Equal(t, domain.StateIdle, snap.State)
	assert.Zero(t, f.channel.publishedCount())
}

func TestSignalingWriteFailureStaysIdle(t *testing.T) {
	f := newFixture(t, alice, Config{})
	f.channel.publishErr = assertAnError
	ctx := context.Background()

	err := f.session.StartCall(ctx, bob, domain.KindVoice)
	assert.Equal(t, domain.FailureSignalingWrite, domain.CodeOf(err))

	snap, snapErr := f.session.Snapshot(ctx)
	require.NoError(t, snapErr)
	assert.Equal(t, domain.StateIdle, snap.State)
	joins, _ := f.media.counts()
	assert.Zero(t, joins)
}

func TestRemoteDisconnectTearsDown(t *testing.T) {
	f := newFixture(t, alice, Config{})
	ctx := context.Background()

	require.NoError(t, f.session.StartCall(ctx, bob, domain.KindVoice))
	f.media.waitJoin(t)
	f.media.events <- port.MediaEvent{Kind: port.MediaRemoteJoined}
	f.pres.waitState(t, domain.StateActive)

	f.media.events <- port.MediaEvent{Kind: port.MediaDisconnected, Code: 17, Err: assertAnError}
	idle := f.pres.waitState(t, domain.StateIdle)
	assert.Equal(t, domain.EndRemoteHangup, idle.Reason)
	assert.Equal(t, domain.FailureRemoteDisconnected, domain.CodeOf(idle.Err))

	joins, leaves := f.media.counts()
	assert.Equal(t, 1, joins)
	assert.Equal(t, 1, leaves)
}

func TestTogglesReachProvider(t *testing.T) {
	f := newFixture(t, alice, Config{})
	ctx := context.Background()

	require.NoError(t, f.session.StartCall(ctx, bob, domain.KindVideo))
	f.media.waitJoin(t)
	f.media.events <- port.MediaEvent{Kind: port.MediaRemoteJoined}
	f.pres.waitState(t, domain.StateActive)

	muted, err := f.session.ToggleMute(ctx)
	require.NoError(t, err)
	assert.True(t, muted)

	enabled, err := f.session.ToggleVideo(ctx)
	require.NoError(t, err)
	assert.False(t, enabled, "video starts enabled for a video call")

	f.media.mu.Lock()
	assert.True(t, f.media.muted)
	assert.False(t, f.media.video)
	f.media.mu.Unlock()
}

func TestCallLogRecordsOutcomes(t *testing.T) {
	f := newFixture(t, bob, Config{})
	ctx := context.Background()

	inv := inboundInvitation(t, alice, bob.ID, domain.KindVoice)
	f.channel.deliverAdded(inv)
	f.pres.waitState(t, domain.StateIncoming)
	require.NoError(t, f.session.EndCall(ctx))
	f.pres.waitState(t, domain.StateIdle)

	recs, err := f.log.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.EndDeclined, recs[0].Outcome)
	assert.Equal(t, domain.DirectionInbound, recs[0].Direction)
	assert.Equal(t, alice.ID, recs[0].Peer.ID)
	assert.False(t, recs[0].EndedAt.Before(recs[0].StartedAt))
}

func TestStartPurgesStaleRecords(t *testing.T) {
	f := newFixture(t, alice, Config{})
	f.channel.mu.Lock()
	purges := f.channel.purges
	f.channel.mu.Unlock()
	assert.Equal(t, 1, purges)
}
