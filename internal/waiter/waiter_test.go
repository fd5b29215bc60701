package waiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okarv/stagehand/internal/transport"
	"github.com/okarv/stagehand/pkg/api"
)

func TestAwaitReceivesDeliverable(t *testing.T) {
	tr := transport.NewMemoryTransport()
	w := New(tr)
	ctx := context.Background()

	pending, err := w.Subscribe(ctx, "factory.deliverables.qa-agent.qa.req-1")
	require.NoError(t, err)

	require.NoError(t, tr.Publish(ctx, "factory.deliverables.qa-agent.qa.req-1",
		[]byte(`{"status":"COMPLETE","summary":"all green"}`)))

	d, err := pending.Wait(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, api.DeliverableComplete, d.Status)
	assert.Equal(t, "all green", d.Summary)
	assert.Zero(t, tr.OpenSubscriptions())
}

func TestWaitTimesOut(t *testing.T) {
	tr := transport.NewMemoryTransport()
	w := New(tr)

	start := time.Now()
	_, err := w.Await(context.Background(), "silent.subject", 20*time.Millisecond)
	require.ErrorIs(t, err, ErrAwaitTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, tr.OpenSubscriptions())
}

func TestWaitBufferedMessageBeatsTimeout(t *testing.T) {
	tr := transport.NewMemoryTransport()
	w := New(tr)
	ctx := context.Background()

	pending, err := w.Subscribe(ctx, "s")
	require.NoError(t, err)
	require.NoError(t, tr.Publish(ctx, "s", []byte(`{"status":"COMPLETE"}`)))

	// A zero timeout fires the timer immediately, but the message is
	// already buffered on the subscription and must win.
	d, err := pending.Wait(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, api.DeliverableComplete, d.Status)
}

func TestWaitReportsDecodeError(t *testing.T) {
	tr := transport.NewMemoryTransport()
	w := New(tr)
	ctx := context.Background()

	pending, err := w.Subscribe(ctx, "s")
	require.NoError(t, err)
	require.NoError(t, tr.Publish(ctx, "s", []byte("not json at all")))

	_, err = pending.Wait(ctx, time.Second)
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.NotErrorIs(t, err, ErrAwaitTimeout)

	var malformed *api.MalformedDeliverableError
	assert.True(t, errors.As(err, &malformed))
	assert.Zero(t, tr.OpenSubscriptions())
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	tr := transport.NewMemoryTransport()
	w := New(tr)

	ctx, cancel := context.WithCancel(context.Background())
	pending, err := w.Subscribe(ctx, "s")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = pending.Wait(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tr.OpenSubscriptions())
}

func TestCancelTearsDownSubscription(t *testing.T) {
	tr := transport.NewMemoryTransport()
	w := New(tr)

	pending, err := w.Subscribe(context.Background(), "s")
	require.NoError(t, err)
	require.Equal(t, 1, tr.OpenSubscriptions())

	pending.Cancel()
	pending.Cancel() // idempotent
	assert.Zero(t, tr.OpenSubscriptions())
}

// Whatever mix of outcomes a sequence of waits produces, no subscription
// may survive it.
func TestNoSubscriptionLeaks(t *testing.T) {
	tr := transport.NewMemoryTransport()
	w := New(tr)
	ctx := context.Background()

	// Success.
	pending, err := w.Subscribe(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, tr.Publish(ctx, "a", []byte(`{"status":"COMPLETE"}`)))
	_, err = pending.Wait(ctx, time.Second)
	require.NoError(t, err)

	// Timeout.
	_, err = w.Await(ctx, "b", 5*time.Millisecond)
	require.ErrorIs(t, err, ErrAwaitTimeout)

	// Decode failure.
	pending, err = w.Subscribe(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, tr.Publish(ctx, "c", []byte("garbage")))
	_, err = pending.Wait(ctx, time.Second)
	require.True(t, IsDecodeError(err))

	// Cancelled without waiting.
	pending, err = w.Subscribe(ctx, "d")
	require.NoError(t, err)
	pending.Cancel()

	assert.Zero(t, tr.OpenSubscriptions())
}

func TestTransportErrorWrapsSubscribeFailure(t *testing.T) {
	w := New(failingTransport{})

	_, err := w.Subscribe(context.Background(), "s")
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "subscribe", te.Op)
	assert.Equal(t, "s", te.Subject)
}

type failingTransport struct{}

func (failingTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	return errors.New("fabric down")
}

func (failingTransport) SubscribeOnce(ctx context.Context, subject string) (transport.Subscription, error) {
	return nil, errors.New("fabric down")
}
