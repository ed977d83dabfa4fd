package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/kangklip/kangklip-server/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	s, err := store.NewRedisStore(fmt.Sprintf("redis://%s", mr.Addr()))
	require.NoError(t, err)
	return s
}

// fakeFabric drives a scripted sequence of deployment states: the
// first GetDeployment calls return "PREPARING", then "READY", at
// which point start is expected to be called.
type fakeFabric struct {
	mu          sync.Mutex
	states      []string
	getCalls    int
	startCalled bool
}

func (f *fakeFabric) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/deployments":
			fmt.Fprint(w, `{"run_id":"run_1","state":"PREPARING"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/deployments/run_1":
			f.mu.Lock()
			idx := f.getCalls
			if idx >= len(f.states) {
				idx = len(f.states) - 1
			}
			state := f.states[idx]
			f.getCalls++
			f.mu.Unlock()
			fmt.Fprintf(w, `{"run_id":"run_1","state":"%s"}`, state)
		case r.Method == http.MethodPost && r.URL.Path == "/deployments/run_1/start":
			f.mu.Lock()
			f.startCalled = true
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/cache/probe":
			fmt.Fprint(w, `{"cached":false}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeFabric) sawStart() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalled
}

func TestSubmitJobDispatchesAndStartsAfterPreparation(t *testing.T) {
	fake := &fakeFabric{states: []string{"PREPARING", "PREPARING", "READY"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	st := newTestStore(t)
	fabric := NewFabricClient(srv.URL, "test-key", "market-1")
	svc := NewService(st, fabric, "worker:latest", "market-1", "https://api.example/callback", "cb-secret", nil)

	rec, err := svc.SubmitJob(context.Background(), SubmitJobRequest{
		VideoURL:         "https://example.com/video.mp4",
		ClipDurationSecs: 30,
		ClipCount:        5,
		Language:         "en",
	})
	require.NoError(t, err)
	require.Equal(t, store.JobQueued, rec.Status)
	require.Equal(t, "run_1", rec.RunID)
	require.Equal(t, "miss", rec.MarketCache)

	require.Eventually(t, fake.sawStart, 10*time.Second, 10*time.Millisecond)
}

func TestSubmitJobRecordsDispatchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := newTestStore(t)
	fabric := NewFabricClient(srv.URL, "test-key", "market-1")
	svc := NewService(st, fabric, "worker:latest", "market-1", "https://api.example/callback", "cb-secret", nil)

	_, err := svc.SubmitJob(context.Background(), SubmitJobRequest{VideoURL: "https://x", ClipDurationSecs: 10, ClipCount: 1})
	require.Error(t, err)
	var dispatchErr *ErrDispatchFailed
	require.ErrorAs(t, err, &dispatchErr)
}

func TestBuildEnvironmentIncludesPassthrough(t *testing.T) {
	fabric := NewFabricClient("http://unused.invalid", "k", "m")
	svc := NewService(nil, fabric, "worker:latest", "m", "https://cb", "secret", map[string]string{"EXTRA": "1"})
	env := svc.buildEnvironment(&store.JobRecord{JobID: "kk_1", VideoURL: "https://v", ClipDurationSecs: 20, ClipCount: 3, Language: "en"})
	require.Equal(t, "kk_1", env["JOB_ID"])
	require.Equal(t, "1", env["EXTRA"])
	require.Equal(t, "https://cb", env["CALLBACK_URL"])

	var decoded map[string]string
	b, _ := json.Marshal(env)
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, "20", decoded["CLIP_DURATION_SECS"])
}
