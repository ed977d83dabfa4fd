package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/kangklip/kangklip-server/internal/auth"
	"github.com/kangklip/kangklip-server/internal/chain"
	"github.com/kangklip/kangklip-server/internal/dispatcher"
	"github.com/kangklip/kangklip-server/internal/store"
	"github.com/kangklip/kangklip-server/internal/unlock"
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

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := newTestStore(t)

	fabricSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/deployments":
			fmt.Fprint(w, `{"run_id":"run_1","state":"READY"}`)
		case r.Method == http.MethodGet:
			fmt.Fprint(w, `{"run_id":"run_1","state":"READY"}`)
		case r.URL.Path == "/deployments/run_1/start":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(fabricSrv.Close)
	fabric := dispatcher.NewFabricClient(fabricSrv.URL, "key", "market")
	dispatchSvc := dispatcher.NewService(st, fabric, "worker:latest", "market", "https://cb.example", "cb-secret", nil)

	var programID, mint, treasury [32]byte
	rpc := chain.NewRPCClient("http://unused.invalid")
	credits := chain.NewCreditService(rpc, programID, mint, treasury, nil)

	authSvc := auth.NewService(st)
	unlockCoord := unlock.NewCoordinator(st, credits)

	handler := New(Deps{
		Store:       st,
		Dispatcher:  dispatchSvc,
		Auth:        authSvc,
		Unlock:      unlockCoord,
		Artifact:    nil,
		Credits:     credits,
		CallbackTok: "cb-secret",
		CORSOrigins: []string{"*"},
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateJobHappyPath(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/jobs", map[string]interface{}{
		"video_url":            "https://example.test/v",
		"clip_duration_seconds": 45,
		"clip_count":           2,
		"language":             "auto",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "QUEUED", body["status"])
	require.NotEmpty(t, body["job_id"])
	require.NotEmpty(t, body["job_token"])
}

func TestCreateJobRejectsInvalidClipCount(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/jobs", map[string]interface{}{
		"video_url":            "https://example.test/v",
		"clip_duration_seconds": 45,
		"clip_count":           9,
		"language":             "en",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/jobs/kk_doesnotexist")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCallbackTransitionsAndGuardsIllegalJump(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.CreateJob(context.Background(), &store.JobRecord{
		JobID: "kk_cb1", JobToken: "tok", Status: store.JobQueued, Stage: store.StageDownload,
	}))

	resp := postJSON(t, srv.URL+"/api/callback/nosana", map[string]interface{}{
		"job_id": "kk_cb1", "status": "FAILED",
	}, map[string]string{"x-callback-token": "cb-secret"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp2 := postJSON(t, srv.URL+"/api/callback/nosana", map[string]interface{}{
		"job_id": "kk_cb1", "status": "RUNNING",
	}, map[string]string{"x-callback-token": "cb-secret"})
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	resp2.Body.Close()

	resp3 := postJSON(t, srv.URL+"/api/callback/nosana", map[string]interface{}{
		"job_id": "kk_cb1", "status": "FAILED", "error": "asr_timeout",
	}, map[string]string{"x-callback-token": "cb-secret"})
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	resp3.Body.Close()

	getResp, err := http.Get(srv.URL + "/api/jobs/kk_cb1")
	require.NoError(t, err)
	body := decodeBody(t, getResp)
	require.Equal(t, "FAILED", body["status"])
	require.Equal(t, "DONE", body["stage"])
	require.Equal(t, float64(100), body["progress"])
	require.Equal(t, "asr_timeout", body["error"])
}

func TestCallbackRejectsWrongToken(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/callback/nosana", map[string]interface{}{
		"job_id": "kk_x", "status": "RUNNING",
	}, map[string]string{"x-callback-token": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestResultsRequiresJobToken(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.CreateJob(context.Background(), &store.JobRecord{
		JobID: "kk_res1", JobToken: "secret-tok", Status: store.JobSucceeded, R2Prefix: "jobs/kk_res1/",
	}))
	resp, err := http.Get(srv.URL + "/api/jobs/kk_res1/results")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
