package publish

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPrice(t *testing.T, s string) fixedpoint.Value {
	t.Helper()
	v, err := fixedpoint.FromString(s)
	require.NoError(t, err)
	return v
}

func TestBroadcasterStreamsPublishedSignalToSSEClient(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	done := make(chan struct{})
	go b.Run(done)
	defer close(done)

	srv := httptest.NewServer(http.HandlerFunc(b.ServeHTTP))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// give the server goroutine time to register before publishing
	time.Sleep(20 * time.Millisecond)

	b.Publish(model.ProcessedSignal{
		SignalCandidate: model.SignalCandidate{
			ID:    "sig-1",
			Type:  model.SignalIceberg,
			Side:  model.SideBuy,
			Price: testPrice(t, "100.5"),
		},
		CorrelationID: "corr-1",
	})

	type readResult struct {
		n   int
		err error
	}
	buf := make([]byte, 512)
	resultCh := make(chan readResult, 1)
	go func() {
		n, err := resp.Body.Read(buf)
		resultCh <- readResult{n, err}
	}()

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		require.Contains(t, string(buf[:res.n]), "corr-1")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SSE payload")
	}
}

type recordingSink struct {
	calls []model.ProcessedSignal
}

func (r *recordingSink) Publish(p model.ProcessedSignal) {
	r.calls = append(r.calls, p)
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := NewFanout(a, b)

	signal := model.ProcessedSignal{SignalCandidate: model.SignalCandidate{ID: "sig-1"}}
	f.Publish(signal)

	require.Len(t, a.calls, 1)
	require.Len(t, b.calls, 1)
	require.Equal(t, "sig-1", a.calls[0].ID)
}
