package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mission-dispatch/internal/config"
	"mission-dispatch/internal/lifecycle"
	"mission-dispatch/internal/match"
	"mission-dispatch/internal/models"
	"mission-dispatch/internal/pricing"
	"mission-dispatch/internal/ratelimit"
	"mission-dispatch/internal/store"
)

func newTestServer(t *testing.T, limiter *ratelimit.TokenBucket) *httptest.Server {
	t.Helper()
	mem := store.NewMemory()
	controller := lifecycle.New(mem, match.NewEngine(mem), pricing.NewPolicy(2.0, 0.5), nil, 1)
	srv := New(config.Config{}, controller, limiter)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, headers map[string]string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func createMission(t *testing.T, ts *httptest.Server, duration int) models.Mission {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/missions",
		map[string]string{headerRequester: "requester-1"},
		createRequest{Latitude: 37.78, Longitude: -122.43, DurationMinutes: duration})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d body %s", resp.StatusCode, body)
	}
	var mission models.Mission
	if err := json.Unmarshal(body, &mission); err != nil {
		t.Fatalf("decode mission: %v", err)
	}
	return mission
}

func TestCreateMission(t *testing.T) {
	ts := newTestServer(t, nil)

	mission := createMission(t, ts, 10)
	if mission.Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", mission.Status)
	}
	if mission.EstimatedCost != 7.0 {
		t.Fatalf("expected estimate 7.0, got %v", mission.EstimatedCost)
	}
}

func TestCreateMissionRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/missions",
		map[string]string{headerRequester: "requester-1"},
		createRequest{DurationMinutes: 0})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for zero duration, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/missions", nil,
		createRequest{DurationMinutes: 10})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity header, got %d", resp.StatusCode)
	}
}

func TestClaimConflict(t *testing.T) {
	ts := newTestServer(t, nil)
	mission := createMission(t, ts, 10)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/missions/"+mission.ID+"/claim",
		map[string]string{headerScout: "scout-a"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first claim: status %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/missions/"+mission.ID+"/claim",
		map[string]string{headerScout: "scout-b"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("losing claim: expected 409 got %d", resp.StatusCode)
	}
	var e map[string]string
	_ = json.Unmarshal(body, &e)
	if e["error"] != "already_claimed" {
		t.Fatalf("expected already_claimed body, got %s", body)
	}
}

func TestClaimUnknownMission(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/missions/ghost/claim",
		map[string]string{headerScout: "scout-a"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.StatusCode)
	}
}

func TestSessionFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	mission := createMission(t, ts, 10)

	doJSON(t, http.MethodPost, ts.URL+"/missions/"+mission.ID+"/claim",
		map[string]string{headerScout: "scout-a"}, nil)

	// Wrong scout cannot go live.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/missions/"+mission.ID+"/start",
		map[string]string{headerScout: "scout-b"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong scout, got %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/missions/"+mission.ID+"/start",
		map[string]string{headerScout: "scout-a"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d body %s", resp.StatusCode, body)
	}
	var started struct {
		Mission   models.Mission `json:"mission"`
		ChannelID *string        `json:"channel_id"`
	}
	if err := json.Unmarshal(body, &started); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if started.ChannelID == nil || *started.ChannelID == "" {
		t.Fatalf("expected non-empty channel id")
	}
	if started.Mission.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", started.Mission.Status)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/missions/"+mission.ID+"/end",
		map[string]string{headerScout: "scout-a"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end: status %d body %s", resp.StatusCode, body)
	}
	var ended struct {
		Mission models.Mission         `json:"mission"`
		Billing models.BillingSnapshot `json:"billing"`
	}
	if err := json.Unmarshal(body, &ended); err != nil {
		t.Fatalf("decode end response: %v", err)
	}
	if ended.Mission.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", ended.Mission.Status)
	}
	if ended.Mission.ChannelID == nil {
		t.Fatalf("channel id must remain set after completion")
	}
	if ended.Billing.BilledAmount != mission.EstimatedCost {
		t.Fatalf("billing must freeze creation estimate: %v", ended.Billing.BilledAmount)
	}
}

func TestCancelLiveSessionRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	mission := createMission(t, ts, 10)

	doJSON(t, http.MethodPost, ts.URL+"/missions/"+mission.ID+"/claim",
		map[string]string{headerScout: "scout-a"}, nil)
	doJSON(t, http.MethodPost, ts.URL+"/missions/"+mission.ID+"/start",
		map[string]string{headerScout: "scout-a"}, nil)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/missions/"+mission.ID+"/cancel",
		map[string]string{headerRequester: "requester-1"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a live session, got %d", resp.StatusCode)
	}
}

func TestCreateRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewTokenBucket(client, 1, 0.001, time.Minute)

	ts := newTestServer(t, limiter)

	createMission(t, ts, 10)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/missions",
		map[string]string{headerRequester: "requester-1"},
		createRequest{DurationMinutes: 10})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestListPending(t *testing.T) {
	ts := newTestServer(t, nil)
	mission := createMission(t, ts, 10)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/missions/pending", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list pending: %d", resp.StatusCode)
	}
	var listing struct {
		Missions []models.Mission `json:"missions"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Missions) != 1 || listing.Missions[0].ID != mission.ID {
		t.Fatalf("unexpected listing: %+v", listing.Missions)
	}
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	mission := createMission(t, ts, 10)
	doJSON(t, http.MethodPost, ts.URL+"/missions/"+mission.ID+"/claim",
		map[string]string{headerScout: "scout-a"}, nil)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/missions?scout=scout-a", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: %d", resp.StatusCode)
	}
	var listing struct {
		Missions []models.Mission `json:"missions"`
	}
	_ = json.Unmarshal(body, &listing)
	if len(listing.Missions) != 1 {
		t.Fatalf("expected one mission in scout history, got %d", len(listing.Missions))
	}
}
