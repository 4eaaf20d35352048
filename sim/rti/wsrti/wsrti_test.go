package wsrti

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
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

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer(rti.NewHub())
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func join(t *testing.T, c *Client, name string) *rtitest.Recorder {
	t.Helper()
	rec := rtitest.NewRecorder()
	_, err := c.Join(context.Background(), "fed", name, "test", rec)
	require.NoError(t, err)
	return rec
}

func TestClient_ErrorsKeepTheirIdentity(t *testing.T) {
	ctx := context.Background()
	_, url := startServer(t)
	c := dial(t, url)

	require.NoError(t, c.CreateFederation(ctx, "fed"))
	err := c.CreateFederation(ctx, "fed")

	assert.ErrorIs(t, err, rti.ErrFederationExists)
	assert.Contains(t, err.Error(), `"fed"`)
	assert.ErrorIs(t, c.Resign(ctx), rti.ErrNotJoined)
}

func TestClient_SyncAndTimeAdvance(t *testing.T) {
	// GIVEN two remote federates, time managed with lookahead 1
	ctx := context.Background()
	_, url := startServer(t)
	a, b := dial(t, url), dial(t, url)
	require.NoError(t, a.CreateFederation(ctx, "fed"))
	ra, rb := join(t, a, "A"), join(t, b, "B")
	for _, pair := range []struct {
		c   *Client
		rec *rtitest.Recorder
	}{{a, ra}, {b, rb}} {
		require.NoError(t, pair.c.EnableTimeRegulation(ctx, 1))
		require.NoError(t, pair.c.EnableTimeConstrained(ctx))
		pair.rec.Expect(t, "regulation 0", "constrained 0")
	}

	// WHEN both pass a barrier
	require.NoError(t, a.RegisterSyncPoint(ctx, rti.LabelInitialized))
	ra.Expect(t, "sync-ok initialized", "announce initialized")
	rb.Expect(t, "announce initialized")
	require.NoError(t, a.SyncPointAchieved(ctx, rti.LabelInitialized))
	require.NoError(t, b.SyncPointAchieved(ctx, rti.LabelInitialized))
	ra.Expect(t, "synchronized initialized")
	rb.Expect(t, "synchronized initialized")

	// THEN they advance in lockstep
	require.NoError(t, a.TimeAdvanceRequest(ctx, 1))
	ra.ExpectNone(t, 50*time.Millisecond)
	require.NoError(t, b.TimeAdvanceRequest(ctx, 1))
	ra.Expect(t, "grant 1")
	rb.Expect(t, "grant 1")
}

func TestClient_ObjectValuesRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, url := startServer(t)
	a, b := dial(t, url), dial(t, url)
	require.NoError(t, a.CreateFederation(ctx, "fed"))
	join(t, a, "A")
	rb := join(t, b, "B")

	require.NoError(t, a.PublishObjectClass(ctx, "City", []string{"Population"}))
	require.NoError(t, b.SubscribeObjectClass(ctx, "City", []string{"Population"}))
	obj, err := a.RegisterObjectInstance(ctx, "City", "Alpha")
	require.NoError(t, err)
	rb.Expect(t, "discover "+string(obj)+" City Alpha")

	// binary payloads survive the JSON encoding
	require.NoError(t, a.UpdateAttributeValues(ctx, obj, rti.AttributeValues{"Population": []byte{0x00, 0xff, 'x'}}, 0))
	rb.Expect(t, "reflect "+string(obj)+" Population=\x00\xffx @0")
}

func TestClient_CloseResignsOnServer(t *testing.T) {
	// GIVEN B waits at a barrier held by A
	ctx := context.Background()
	srv, url := startServer(t)
	a, b := dial(t, url), dial(t, url)
	require.NoError(t, a.CreateFederation(ctx, "fed"))
	ra, rb := join(t, a, "A"), join(t, b, "B")
	require.NoError(t, b.RegisterSyncPoint(ctx, rti.LabelReset))
	ra.Expect(t, "announce reset")
	rb.Expect(t, "sync-ok reset", "announce reset")
	require.NoError(t, b.SyncPointAchieved(ctx, rti.LabelReset))

	// WHEN A closes its connection
	require.NoError(t, a.Close())

	// THEN the server resigns A and the barrier completes
	rb.Expect(t, "synchronized reset")
	assert.ErrorIs(t, a.Resign(ctx), rti.ErrDisconnected)
	assert.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.sessions) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClient_ServerGone_ReportsConnectionLost(t *testing.T) {
	ctx := context.Background()
	srv, url := startServer(t)
	c := dial(t, url)
	require.NoError(t, c.CreateFederation(ctx, "fed"))
	rec := join(t, c, "A")

	srv.Close()

	assert.True(t, strings.HasPrefix(rec.Next(t), "lost "))
	assert.ErrorIs(t, c.TimeAdvanceRequest(ctx, 1), rti.ErrDisconnected)
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/rti")
	assert.ErrorIs(t, err, rti.ErrDisconnected)
}
