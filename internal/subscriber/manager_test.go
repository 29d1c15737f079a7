package subscriber_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/ingest"
	"github.com/kiranshivaraju/eventgate/internal/store"
	"github.com/kiranshivaraju/eventgate/internal/subscriber"
	"github.com/kiranshivaraju/eventgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records calls and lets tests drive the broker side.
type fakeTransport struct {
	mu           sync.Mutex
	connects     int
	failNext     int
	subscribeErr error
	block        chan struct{}
	hooks        subscriber.Hooks
	handler      func(topic string, payload []byte)
	topic        string
	disconnects  int
}

func (f *fakeTransport) Connect(_ context.Context, hooks subscriber.Hooks) error {
	f.mu.Lock()
	f.connects++
	f.hooks = hooks
	block := f.block
	fail := f.failNext > 0
	if fail {
		f.failNext--
	}
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return errors.New("dial tcp: connection refused")
	}
	hooks.OnConnect()
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.topic = topic
	f.handler = handler
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeTransport) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(topic, []byte(payload))
}

func (f *fakeTransport) dropConnection() {
	f.mu.Lock()
	h := f.hooks
	f.mu.Unlock()
	h.OnConnectionLost(errors.New("EOF"))
}

// recordingIngester forwards to a real pipeline and counts calls.
type recordingIngester struct {
	pipeline *ingest.Pipeline
	calls    atomic.Int32
	failOnce atomic.Bool
}

func (r *recordingIngester) Ingest(ctx context.Context, e *models.Event) (ingest.Result, error) {
	r.calls.Add(1)
	if r.failOnce.CompareAndSwap(true, false) {
		return ingest.Result{}, ingest.ErrPersistence
	}
	return r.pipeline.Ingest(ctx, e)
}

func setup(t *testing.T, ft *fakeTransport, opts ...subscriber.Option) (*subscriber.Manager, *store.MemoryStore, *recordingIngester) {
	t.Helper()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.CreateAccount(context.Background(), &models.Account{Code: "ACME01", Name: "Acme"}))
	ing := &recordingIngester{pipeline: ingest.NewPipeline(ms, nil, nil)}

	// Long intervals keep the timer out of the way; tests call Liveness directly.
	opts = append([]subscriber.Option{subscriber.WithLiveness(time.Hour, time.Hour)}, opts...)
	m := subscriber.NewManager(ft, ing, "eventos/+/+", 1, opts...)
	t.Cleanup(m.Stop)
	return m, ms, ing
}

func countEvents(t *testing.T, ms *store.MemoryStore) int {
	t.Helper()
	events, err := ms.ListEvents(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	return len(events)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", subscriber.Disconnected.String())
	assert.Equal(t, "connecting", subscriber.Connecting.String())
	assert.Equal(t, "connected", subscriber.Connected.String())
}

func TestStart_ConnectsAndSubscribes(t *testing.T) {
	ft := &fakeTransport{}
	m, ms, _ := setup(t, ft)

	m.Start(context.Background())

	assert.Equal(t, subscriber.Connected, m.State())
	assert.Equal(t, 1, ft.Connects())
	assert.Equal(t, "eventos/+/+", ft.topic)

	ft.deliver("eventos/ACME01/alarma", `{"payload":{"lat":1.5,"lng":2.5}}`)
	assert.Equal(t, 1, countEvents(t, ms))
}

func TestConnect_NoopWhenConnected(t *testing.T) {
	ft := &fakeTransport{}
	m, _, _ := setup(t, ft)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Connect(ctx))
	m.Liveness(ctx)

	assert.Equal(t, 1, ft.Connects())
}

func TestConnect_ConcurrentCallsDialOnce(t *testing.T) {
	ft := &fakeTransport{block: make(chan struct{})}
	m, _, _ := setup(t, ft)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Connect(ctx)
		}()
	}
	require.Eventually(t, func() bool { return ft.Connects() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, subscriber.Connecting, m.State())

	close(ft.block)
	wg.Wait()
	assert.Equal(t, 1, ft.Connects())
	assert.Equal(t, subscriber.Connected, m.State())
}

func TestLiveness_RecoversAfterTransportFailure(t *testing.T) {
	ft := &fakeTransport{failNext: 1}
	m, ms, _ := setup(t, ft)
	ctx := context.Background()

	m.Start(ctx)
	assert.Equal(t, subscriber.Disconnected, m.State())
	assert.Equal(t, 1, ft.Connects())

	m.Liveness(ctx)
	assert.Equal(t, 2, ft.Connects(), "one connect attempt per tick")
	assert.Equal(t, subscriber.Connected, m.State())

	m.Liveness(ctx)
	assert.Equal(t, 2, ft.Connects(), "no dial while connected")

	ft.deliver("eventos/ACME01/parada", `{}`)
	assert.Equal(t, 1, countEvents(t, ms))
}

func TestLiveness_AfterConnectionLost(t *testing.T) {
	ft := &fakeTransport{}
	m, ms, _ := setup(t, ft)
	ctx := context.Background()

	m.Start(ctx)
	ft.dropConnection()
	assert.Equal(t, subscriber.Disconnected, m.State())

	m.Liveness(ctx)
	assert.Equal(t, 2, ft.Connects())
	assert.Equal(t, subscriber.Connected, m.State())

	ft.deliver("eventos/ACME01/conexion", `{"event_id":"evt_1"}`)
	assert.Equal(t, 1, countEvents(t, ms))
}

func TestLiveness_TimerFires(t *testing.T) {
	ft := &fakeTransport{failNext: 1}
	m, _, _ := setup(t, ft, subscriber.WithLiveness(10*time.Millisecond, 20*time.Millisecond))

	m.Start(context.Background())

	require.Eventually(t, func() bool { return m.State() == subscriber.Connected }, 2*time.Second, 5*time.Millisecond)
	// further ticks keep firing but never dial again
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, ft.Connects())
}

func TestSubscribeFailure_DropsConnection(t *testing.T) {
	ft := &fakeTransport{subscribeErr: errors.New("not authorized")}
	m, _, _ := setup(t, ft)

	m.Start(context.Background())
	assert.Equal(t, subscriber.Disconnected, m.State())
	assert.Equal(t, 1, ft.disconnects)

	ft.mu.Lock()
	ft.subscribeErr = nil
	ft.mu.Unlock()

	m.Liveness(context.Background())
	assert.Equal(t, subscriber.Connected, m.State())
}

func TestMessageFailures_DoNotAffectConnection(t *testing.T) {
	ft := &fakeTransport{}
	m, ms, ing := setup(t, ft)
	m.Start(context.Background())

	// malformed topic and payload, then an unknown account
	ft.deliver("eventos/ACME01", `{}`)
	ft.deliver("eventos/ACME01/alarma", `not json`)
	ft.deliver("eventos/GHOST/alarma", `{}`)
	// store failure, then a good message and its redelivery
	ing.failOnce.Store(true)
	ft.deliver("eventos/ACME01/alarma", `{}`)
	ft.deliver("eventos/ACME01/alarma", `{"event_id":"evt_ok"}`)
	ft.deliver("eventos/ACME01/alarma", `{"event_id":"evt_ok"}`)

	assert.Equal(t, subscriber.Connected, m.State())
	assert.Equal(t, int32(4), ing.calls.Load())
	assert.Equal(t, 1, countEvents(t, ms))
	assert.Equal(t, 1, ft.Connects())
}

func TestStop_DisconnectsAndBlocksConnect(t *testing.T) {
	ft := &fakeTransport{}
	m, _, _ := setup(t, ft)
	m.Start(context.Background())

	m.Stop()
	assert.Equal(t, subscriber.Disconnected, m.State())
	assert.GreaterOrEqual(t, ft.disconnects, 1)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, ft.Connects())
}
