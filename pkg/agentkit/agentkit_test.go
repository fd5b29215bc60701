package agentkit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okarv/stagehand/internal/transport"
	"github.com/okarv/stagehand/pkg/api"
)

func announcement() *api.StageAnnouncement {
	return &api.StageAnnouncement{
		InstanceID:    "req-1",
		Workflow:      "feature-build",
		Stage:         "qa",
		StageIndex:    4,
		AgentID:       "qa-agent",
		Attempt:       1,
		ResultSubject: "factory.deliverables.qa-agent.qa.req-1",
	}
}

func TestDecodeAnnouncement(t *testing.T) {
	data, err := json.Marshal(announcement())
	require.NoError(t, err)

	ann, err := DecodeAnnouncement(data)
	require.NoError(t, err)
	assert.Equal(t, "req-1", ann.InstanceID)
	assert.Equal(t, "qa", ann.Stage)

	_, err = DecodeAnnouncement([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeAnnouncement([]byte(`{"workflow":"x"}`))
	assert.ErrorContains(t, err, "missing instance id")
}

// awaitResult reads the deliverable the kit published for the given
// announcement off a subscription opened before the publish.
func awaitResult(t *testing.T, sub transport.Subscription) *api.Deliverable {
	t.Helper()

	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok)
		d, err := api.DecodeDeliverable(msg.Data)
		require.NoError(t, err)
		return d
	case <-time.After(time.Second):
		t.Fatal("no deliverable published")
		return nil
	}
}

func TestKitPublishesDeliverables(t *testing.T) {
	tr := transport.NewMemoryTransport()
	kit := New(tr, "factory")
	ctx := context.Background()
	ann := announcement()

	subscribe := func() transport.Subscription {
		sub, err := tr.SubscribeOnce(ctx, ann.ResultSubject)
		require.NoError(t, err)
		return sub
	}

	sub := subscribe()
	require.NoError(t, kit.Complete(ctx, ann, "all green"))
	d := awaitResult(t, sub)
	assert.Equal(t, api.DeliverableComplete, d.Status)
	assert.Equal(t, "all green", d.Summary)

	sub = subscribe()
	require.NoError(t, kit.CompleteWithDecision(ctx, ann, "looks solid", "approved"))
	d = awaitResult(t, sub)
	assert.Equal(t, api.DeliverableComplete, d.Status)
	assert.True(t, d.Approved())

	sub = subscribe()
	require.NoError(t, kit.Block(ctx, ann, "need credentials"))
	d = awaitResult(t, sub)
	assert.Equal(t, api.DeliverableBlocked, d.Status)

	sub = subscribe()
	require.NoError(t, kit.Fail(ctx, ann, "FAILED_VALIDATION", "schema mismatch"))
	d = awaitResult(t, sub)
	assert.Equal(t, "FAILED_VALIDATION", d.Status)
}

func TestKitFailRejectsReservedStatuses(t *testing.T) {
	kit := New(transport.NewMemoryTransport(), "factory")
	ann := announcement()

	for _, status := range []string{"", api.DeliverableComplete, api.DeliverableBlocked} {
		assert.Error(t, kit.Fail(context.Background(), ann, status, ""))
	}
}

func TestAwaitAnnouncement(t *testing.T) {
	tr := transport.NewMemoryTransport()
	kit := New(tr, "factory")
	ctx := context.Background()

	data, err := json.Marshal(announcement())
	require.NoError(t, err)

	annCh := make(chan *api.StageAnnouncement, 1)
	errCh := make(chan error, 1)
	ready := make(chan struct{})
	go func() {
		close(ready)
		ann, err := kit.AwaitAnnouncement(ctx, "qa", "req-1", 5*time.Second)
		annCh <- ann
		errCh <- err
	}()
	<-ready

	// The memory transport drops publishes with no subscriber, so keep
	// publishing until the awaiting side has its subscription up.
	subject := transport.Subjects{Domain: "factory"}.StageStart("qa", "req-1")
	for {
		require.NoError(t, tr.Publish(ctx, subject, data))
		select {
		case ann := <-annCh:
			require.NoError(t, <-errCh)
			assert.Equal(t, "req-1", ann.InstanceID)
			return
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func TestAwaitAnnouncementTimesOut(t *testing.T) {
	kit := New(transport.NewMemoryTransport(), "factory")

	_, err := kit.AwaitAnnouncement(context.Background(), "qa", "req-1", 20*time.Millisecond)
	assert.ErrorContains(t, err, "no announcement")
}
