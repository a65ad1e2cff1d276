package watch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchbot/prsweep/internal/config"
	"github.com/branchbot/prsweep/internal/sweep"
)

func testCfg() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Repo = "testowner/testrepo"
	// Long interval so the ticker never fires during a test.
	cfg.Watch.Interval = "1h"
	return &cfg
}

func TestHandleHealthz(t *testing.T) {
	s := NewServer(testCfg(), nil)
	s.started = time.Now()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, "testowner/testrepo", resp.Repo)
	assert.Equal(t, 0, resp.Sweeps)
	assert.Empty(t, resp.LastError)
}

func TestHandleSummary_BeforeFirstSweep(t *testing.T) {
	s := NewServer(testCfg(), nil)

	req := httptest.NewRequest(http.MethodGet, "/summary", nil)
	rec := httptest.NewRecorder()
	s.handleSummary(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSummary_AfterSweep(t *testing.T) {
	sum := &sweep.Summary{Repo: "testowner/testrepo", Total: 2}
	s := NewServer(testCfg(), func(ctx context.Context) (*sweep.Summary, error) {
		return sum, nil
	})
	s.sweepOnce(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/summary", nil)
	rec := httptest.NewRecorder()
	s.handleSummary(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got sweep.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "testowner/testrepo", got.Repo)
	assert.Equal(t, 2, got.Total)
}

func TestHandleTrigger(t *testing.T) {
	s := NewServer(testCfg(), nil)
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/sweep", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, s.trigger, 1)
}

func TestTriggerSweepCoalesces(t *testing.T) {
	s := NewServer(testCfg(), nil)
	s.TriggerSweep()
	s.TriggerSweep()
	assert.Len(t, s.trigger, 1)
}

func TestSweepOnce_RecordsAndClearsError(t *testing.T) {
	calls := 0
	s := NewServer(testCfg(), func(ctx context.Context) (*sweep.Summary, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("listing open pull requests: boom")
		}
		return &sweep.Summary{Repo: "testowner/testrepo"}, nil
	})

	s.sweepOnce(context.Background())

	s.mu.RLock()
	assert.Equal(t, 1, s.sweeps)
	assert.Contains(t, s.lastErr, "boom")
	assert.Nil(t, s.last)
	s.mu.RUnlock()

	s.sweepOnce(context.Background())

	s.mu.RLock()
	assert.Equal(t, 2, s.sweeps)
	assert.Empty(t, s.lastErr)
	assert.NotNil(t, s.last)
	s.mu.RUnlock()
}

func TestSweepLoop_RunsImmediately(t *testing.T) {
	ran := make(chan struct{}, 4)
	s := NewServer(testCfg(), func(ctx context.Context) (*sweep.Summary, error) {
		ran <- struct{}{}
		return &sweep.Summary{Repo: "testowner/testrepo"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.sweepLoop(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep loop did not run on startup")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep loop did not stop on cancellation")
	}
}

func TestSweepLoop_ManualTrigger(t *testing.T) {
	ran := make(chan struct{}, 4)
	s := NewServer(testCfg(), func(ctx context.Context) (*sweep.Summary, error) {
		ran <- struct{}{}
		return &sweep.Summary{Repo: "testowner/testrepo"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.sweepLoop(ctx)

	select {
	case <-ran: // startup sweep
	case <-time.After(2 * time.Second):
		t.Fatal("sweep loop did not run on startup")
	}

	s.TriggerSweep()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("manual trigger did not cause a sweep")
	}
}

func TestEventsBroadcast(t *testing.T) {
	s := NewServer(testCfg(), nil)
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return s.Hub().ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Hub().Broadcast(sweep.Event{
		Kind:   sweep.EventPRMerged,
		Repo:   "testowner/testrepo",
		Number: 42,
		Title:  "Add widget support",
	})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var ev sweep.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, sweep.EventPRMerged, ev.Kind)
	assert.Equal(t, "testowner/testrepo", ev.Repo)
	assert.Equal(t, 42, ev.Number)
}
