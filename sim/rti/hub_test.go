package rti_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-lab-org/sipg-sub003/sim/rti"
	"github.com/code-lab-org/sipg-sub003/sim/rti/rtitest"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

const quiet = 50 * time.Millisecond

type federate struct {
	conn *rti.Conn
	rec  *rtitest.Recorder
}

// joinAll creates federation "fed" and joins one federate per name.
func joinAll(t *testing.T, hub *rti.Hub, names ...string) []federate {
	t.Helper()
	ctx := context.Background()
	feds := make([]federate, len(names))
	for i, name := range names {
		c := hub.Connect()
		t.Cleanup(func() { _ = c.Close() })
		if i == 0 {
			require.NoError(t, c.CreateFederation(ctx, "fed"))
		}
		rec := rtitest.NewRecorder()
		_, err := c.Join(ctx, "fed", name, "test", rec)
		require.NoError(t, err)
		feds[i] = federate{conn: c, rec: rec}
	}
	return feds
}

// timeManaged enables regulation and constraint on every federate.
func timeManaged(t *testing.T, lookahead int64, feds ...federate) {
	t.Helper()
	ctx := context.Background()
	for _, f := range feds {
		require.NoError(t, f.conn.EnableTimeRegulation(ctx, lookahead))
		require.NoError(t, f.conn.EnableTimeConstrained(ctx))
		f.rec.Expect(t, "regulation 0", "constrained 0")
	}
}

func TestHub_FederationLifecycle(t *testing.T) {
	ctx := context.Background()
	hub := rti.NewHub()
	c := hub.Connect()
	defer c.Close()

	require.NoError(t, c.CreateFederation(ctx, "fed"))
	assert.ErrorIs(t, c.CreateFederation(ctx, "fed"), rti.ErrFederationExists)
	_, err := c.Join(ctx, "nope", "A", "test", rti.NopAmbassador{})
	assert.ErrorIs(t, err, rti.ErrFederationNotExist)

	handle, err := c.Join(ctx, "fed", "A", "test", rti.NopAmbassador{})
	require.NoError(t, err)
	assert.NotEmpty(t, handle)
	_, err = c.Join(ctx, "fed", "B", "test", rti.NopAmbassador{})
	assert.ErrorIs(t, err, rti.ErrAlreadyJoined)

	other := hub.Connect()
	defer other.Close()
	_, err = other.Join(ctx, "fed", "A", "test", rti.NopAmbassador{})
	assert.ErrorIs(t, err, rti.ErrFederateNameInUse)

	assert.ErrorIs(t, c.DestroyFederation(ctx, "fed"), rti.ErrFederatesJoined)
	require.NoError(t, c.Resign(ctx))
	assert.ErrorIs(t, c.Resign(ctx), rti.ErrNotJoined)
	require.NoError(t, c.DestroyFederation(ctx, "fed"))
	assert.ErrorIs(t, c.DestroyFederation(ctx, "fed"), rti.ErrFederationNotExist)
	assert.Empty(t, hub.Federations())
}

func TestHub_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := rti.NewHub().Connect()
	defer c.Close()

	assert.ErrorIs(t, c.CreateFederation(ctx, "fed"), context.Canceled)
}

func TestHub_SyncPoint_SecondRegistrantFailsAndBothSynchronize(t *testing.T) {
	// GIVEN two federates
	ctx := context.Background()
	feds := joinAll(t, rti.NewHub(), "A", "B")
	a, b := feds[0], feds[1]

	// WHEN both register the same label
	require.NoError(t, a.conn.RegisterSyncPoint(ctx, rti.LabelInitialized))
	require.NoError(t, b.conn.RegisterSyncPoint(ctx, rti.LabelInitialized))

	// THEN only the first registration succeeds and both see one announcement
	a.rec.Expect(t, "sync-ok initialized", "announce initialized")
	b.rec.Expect(t, "announce initialized", "sync-fail initialized")

	// AND the federation synchronizes once both achieve it
	require.NoError(t, a.conn.SyncPointAchieved(ctx, rti.LabelInitialized))
	a.rec.ExpectNone(t, quiet)
	require.NoError(t, b.conn.SyncPointAchieved(ctx, rti.LabelInitialized))
	a.rec.Expect(t, "synchronized initialized")
	b.rec.Expect(t, "synchronized initialized")

	// AND the label can be registered again
	require.NoError(t, b.conn.RegisterSyncPoint(ctx, rti.LabelInitialized))
	b.rec.Expect(t, "sync-ok initialized", "announce initialized")
}

func TestHub_SyncPoint_UnannouncedLabel(t *testing.T) {
	feds := joinAll(t, rti.NewHub(), "A")
	assert.ErrorIs(t, feds[0].conn.SyncPointAchieved(context.Background(), "x"), rti.ErrSyncPointNotAnnounced)
}

func TestHub_SyncPoint_LateJoinerAndResign(t *testing.T) {
	// GIVEN A registered a point before B joined
	ctx := context.Background()
	hub := rti.NewHub()
	a := joinAll(t, hub, "A")[0]
	require.NoError(t, a.conn.RegisterSyncPoint(ctx, rti.LabelReset))
	a.rec.Expect(t, "sync-ok reset", "announce reset")

	b := hub.Connect()
	defer b.Close()
	rec := rtitest.NewRecorder()
	_, err := b.Join(ctx, "fed", "B", "test", rec)
	require.NoError(t, err)

	// THEN B is announced the open point and holds the barrier
	rec.Expect(t, "announce reset")
	require.NoError(t, a.conn.SyncPointAchieved(ctx, rti.LabelReset))
	a.rec.ExpectNone(t, quiet)

	// WHEN B resigns THEN the barrier completes without it
	require.NoError(t, b.Resign(ctx))
	a.rec.Expect(t, "synchronized reset")
}

func TestHub_TimeAdvance_Lockstep(t *testing.T) {
	// GIVEN two regulating, constrained federates with lookahead 10
	ctx := context.Background()
	feds := joinAll(t, rti.NewHub(), "A", "B")
	a, b := feds[0], feds[1]
	timeManaged(t, 10, a, b)

	// WHEN B requests 10 first
	require.NoError(t, b.conn.TimeAdvanceRequest(ctx, 10))

	// THEN it waits because A may still send updates stamped 10
	b.rec.ExpectNone(t, quiet)

	// WHEN A requests 10 too THEN both are granted
	require.NoError(t, a.conn.TimeAdvanceRequest(ctx, 10))
	a.rec.Expect(t, "grant 10")
	b.rec.Expect(t, "grant 10")

	// AND A cannot run a step ahead of B
	require.NoError(t, a.conn.TimeAdvanceRequest(ctx, 20))
	a.rec.ExpectNone(t, quiet)
	require.NoError(t, b.conn.TimeAdvanceRequest(ctx, 20))
	a.rec.Expect(t, "grant 20")
	b.rec.Expect(t, "grant 20")
}

func TestHub_TimeAdvance_InvalidRequests(t *testing.T) {
	ctx := context.Background()
	feds := joinAll(t, rti.NewHub(), "A", "B")
	a, b := feds[0], feds[1]

	assert.ErrorIs(t, a.conn.EnableTimeRegulation(ctx, 0), rti.ErrTimeManagement)
	timeManaged(t, 10, a, b)
	assert.ErrorIs(t, a.conn.EnableTimeRegulation(ctx, 10), rti.ErrTimeManagement)
	assert.ErrorIs(t, a.conn.EnableTimeConstrained(ctx), rti.ErrTimeManagement)

	require.NoError(t, a.conn.TimeAdvanceRequest(ctx, 10))
	assert.ErrorIs(t, a.conn.TimeAdvanceRequest(ctx, 20), rti.ErrTimeManagement, "already pending")
	require.NoError(t, b.conn.TimeAdvanceRequest(ctx, 10))
	a.rec.Expect(t, "grant 10")
	assert.ErrorIs(t, a.conn.TimeAdvanceRequest(ctx, 5), rti.ErrTimeManagement, "backwards")
}

func TestHub_TimeAdvance_UnconstrainedIsGrantedImmediately(t *testing.T) {
	ctx := context.Background()
	feds := joinAll(t, rti.NewHub(), "A", "B")
	require.NoError(t, feds[1].conn.EnableTimeRegulation(ctx, 1))
	feds[1].rec.Expect(t, "regulation 0")

	require.NoError(t, feds[0].conn.TimeAdvanceRequest(ctx, 100))

	feds[0].rec.Expect(t, "grant 100")
}

func TestHub_TimeAdvance_ResignReleasesWaiter(t *testing.T) {
	// GIVEN B waits on A
	ctx := context.Background()
	feds := joinAll(t, rti.NewHub(), "A", "B")
	a, b := feds[0], feds[1]
	timeManaged(t, 10, a, b)
	require.NoError(t, b.conn.TimeAdvanceRequest(ctx, 10))
	b.rec.ExpectNone(t, quiet)

	// WHEN A resigns THEN B is granted
	require.NoError(t, a.conn.Resign(ctx))
	b.rec.Expect(t, "grant 10")
}

func TestHub_SaveRestore_RoundTrip(t *testing.T) {
	// GIVEN two time-managed federates saved at time 0
	ctx := context.Background()
	feds := joinAll(t, rti.NewHub(), "A", "B")
	a, b := feds[0], feds[1]
	timeManaged(t, 10, a, b)

	require.NoError(t, a.conn.RequestFederationSave(ctx, rti.LabelInitialState))
	a.rec.Expect(t, "save initialState")
	b.rec.Expect(t, "save initialState")
	assert.ErrorIs(t, b.conn.RequestFederationSave(ctx, "other"), rti.ErrSaveInProgress)
	for _, f := range feds {
		require.NoError(t, f.conn.FederateSaveBegun(ctx))
		require.NoError(t, f.conn.FederateSaveComplete(ctx))
	}
	a.rec.Expect(t, "saved")
	b.rec.Expect(t, "saved")

	// AND both advanced to 10
	require.NoError(t, a.conn.TimeAdvanceRequest(ctx, 10))
	require.NoError(t, b.conn.TimeAdvanceRequest(ctx, 10))
	a.rec.Expect(t, "grant 10")
	b.rec.Expect(t, "grant 10")

	// WHEN the save is restored
	require.NoError(t, b.conn.RequestFederationRestore(ctx, rti.LabelInitialState))

	// THEN both restore and rejoin lockstep from time 0
	b.rec.Expect(t, "restore-ok initialState", "restore-begun", "restore initialState B")
	a.rec.Expect(t, "restore-begun", "restore initialState A")
	assert.ErrorIs(t, a.conn.RequestFederationRestore(ctx, rti.LabelInitialState), rti.ErrRestoreInProgress)
	require.NoError(t, a.conn.FederateRestoreComplete(ctx))
	a.rec.ExpectNone(t, quiet)
	require.NoError(t, b.conn.FederateRestoreComplete(ctx))
	a.rec.Expect(t, "restored")
	b.rec.Expect(t, "restored")

	require.NoError(t, a.conn.TimeAdvanceRequest(ctx, 10))
	require.NoError(t, b.conn.TimeAdvanceRequest(ctx, 10))
	a.rec.Expect(t, "grant 10")
	b.rec.Expect(t, "grant 10")
}

func TestHub_Restore_UnknownLabelFails(t *testing.T) {
	ctx := context.Background()
	a := joinAll(t, rti.NewHub(), "A")[0]

	require.NoError(t, a.conn.RequestFederationRestore(ctx, "never-saved"))

	a.rec.Expect(t, "restore-fail never-saved")
	assert.ErrorIs(t, a.conn.FederateRestoreComplete(ctx), rti.ErrNoRestoreInProgress)
}

func TestHub_Save_NotComplete(t *testing.T) {
	ctx := context.Background()
	feds := joinAll(t, rti.NewHub(), "A", "B")
	a, b := feds[0], feds[1]
	require.NoError(t, a.conn.RequestFederationSave(ctx, "s"))
	a.rec.Expect(t, "save s")
	b.rec.Expect(t, "save s")

	require.NoError(t, a.conn.FederateSaveComplete(ctx))
	require.NoError(t, b.conn.FederateSaveNotComplete(ctx))

	a.rec.Expect(t, "not-saved federates [B] could not save")
	// AND the failed save cannot be restored
	require.NoError(t, a.conn.RequestFederationRestore(ctx, "s"))
	b.rec.Expect(t, "not-saved federates [B] could not save")
	a.rec.Expect(t, "restore-fail s")
}

func TestHub_Objects_DiscoverReflectProvideRemove(t *testing.T) {
	ctx := context.Background()
	feds := joinAll(t, rti.NewHub(), "A", "B")
	a, b := feds[0], feds[1]

	// GIVEN A owns an instance of City
	_, err := a.conn.RegisterObjectInstance(ctx, "City", "Alpha")
	assert.ErrorIs(t, err, rti.ErrClassNotPublished)
	require.NoError(t, a.conn.PublishObjectClass(ctx, "City", []string{"Name", "Population"}))
	obj, err := a.conn.RegisterObjectInstance(ctx, "City", "Alpha")
	require.NoError(t, err)
	_, err = a.conn.RegisterObjectInstance(ctx, "City", "Alpha")
	assert.ErrorIs(t, err, rti.ErrObjectNameInUse)

	// WHEN B subscribes to Population only
	require.NoError(t, b.conn.SubscribeObjectClass(ctx, "City", []string{"Population"}))

	// THEN B discovers the existing instance
	b.rec.Expect(t, "discover "+string(obj)+" City Alpha")

	// AND reflections carry only the subscribed attributes
	require.NoError(t, a.conn.UpdateAttributeValues(ctx, obj, rti.AttributeValues{"Name": []byte("Alpha"), "Population": []byte("7")}, 5))
	b.rec.Expect(t, "reflect "+string(obj)+" Population=7 @5")
	require.NoError(t, a.conn.UpdateAttributeValues(ctx, obj, rti.AttributeValues{"Name": []byte("Alpha")}, 6))
	b.rec.ExpectNone(t, quiet)

	// AND only the owner may update, and only published attributes
	assert.ErrorIs(t, b.conn.UpdateAttributeValues(ctx, obj, rti.AttributeValues{"Population": nil}, 5), rti.ErrNotOwner)
	assert.ErrorIs(t, a.conn.UpdateAttributeValues(ctx, obj, rti.AttributeValues{"Area": nil}, 5), rti.ErrNotOwner)
	assert.ErrorIs(t, a.conn.UpdateAttributeValues(ctx, "missing", nil, 5), rti.ErrObjectNotKnown)

	// AND update requests reach the owner
	require.NoError(t, b.conn.RequestAttributeValueUpdate(ctx, "City", []string{"Population"}))
	a.rec.Expect(t, "provide "+string(obj)+" Population")

	// WHEN A resigns THEN B loses the instance
	require.NoError(t, a.conn.Resign(ctx))
	b.rec.Expect(t, "remove "+string(obj))
}

func TestHub_Objects_LateSubscriberDiscoversOnRegister(t *testing.T) {
	ctx := context.Background()
	feds := joinAll(t, rti.NewHub(), "A", "B")
	a, b := feds[0], feds[1]
	require.NoError(t, b.conn.SubscribeObjectClass(ctx, "City", []string{"Population"}))
	require.NoError(t, a.conn.PublishObjectClass(ctx, "City", []string{"Population"}))

	obj, err := a.conn.RegisterObjectInstance(ctx, "City", "")

	require.NoError(t, err)
	b.rec.Expect(t, "discover "+string(obj)+" City object-1")
	a.rec.ExpectNone(t, quiet)
}

func TestConn_Drop_NotifiesAndDisconnects(t *testing.T) {
	// GIVEN B waits at a barrier with A
	ctx := context.Background()
	feds := joinAll(t, rti.NewHub(), "A", "B")
	a, b := feds[0], feds[1]
	require.NoError(t, a.conn.RegisterSyncPoint(ctx, rti.LabelInitialized))
	a.rec.Expect(t, "sync-ok initialized", "announce initialized")
	b.rec.Expect(t, "announce initialized")
	require.NoError(t, b.conn.SyncPointAchieved(ctx, rti.LabelInitialized))

	// WHEN A's connection drops
	a.conn.Drop("network down")

	// THEN A is told, its calls fail and B's barrier completes
	a.rec.Expect(t, "lost network down")
	assert.ErrorIs(t, a.conn.Resign(ctx), rti.ErrDisconnected)
	b.rec.Expect(t, "synchronized initialized")
}
