package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"pingme/internal/metrics"
	"pingme/internal/model"
	"pingme/internal/storage"
	"pingme/internal/stream"
)

type fixedStatus stream.Status

func (f fixedStatus) Status() stream.Status { return stream.Status(f) }

func TestStatusAndHealth(t *testing.T) {
	status := fixedStatus{
		State:               stream.StateConnected,
		Connected:           true,
		SubscribedContracts: []string{"0xaa"},
		Subscriptions:       2,
	}
	srv := httptest.NewServer(NewRouter(status, nil, prometheus.NewRegistry(), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["state"] != "connected" || body["connected"] != true || body["retryCount"] != float64(0) {
		t.Fatalf("unexpected status body %v", body)
	}

	health, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", health.StatusCode)
	}

	down := httptest.NewServer(NewRouter(fixedStatus{State: stream.StateReconnecting}, nil, prometheus.NewRegistry(), nil))
	defer down.Close()
	health, err = http.Get(down.URL + "/healthz")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", health.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Duplicate()

	srv := httptest.NewServer(NewRouter(fixedStatus{}, nil, reg, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(buf.String(), "pingme_ingest_duplicates_total 1") {
		t.Fatalf("metrics output missing duplicates counter:\n%s", buf.String())
	}
}

func TestPushSubscriptionRoutes(t *testing.T) {
	registry := storage.NewMemoryPushRegistry()
	srv := httptest.NewServer(NewRouter(fixedStatus{}, registry, prometheus.NewRegistry(), nil))
	defer srv.Close()
	base := srv.URL + "/users/u1/push-subscriptions"

	resp, err := http.Post(base, "application/json", strings.NewReader(`{"endpoint":"https://push/a","p256dh":"k","auth":"a"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp, err = http.Post(base, "application/json", strings.NewReader(`{"endpoint":"  "}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty endpoint, got %d", resp.StatusCode)
	}

	resp, err = http.Get(base)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var subs []model.PushSubscription
	if err := json.NewDecoder(resp.Body).Decode(&subs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(subs) != 1 || subs[0].P256dh != "k" {
		t.Fatalf("unexpected subscriptions %+v", subs)
	}

	req, _ := http.NewRequest(http.MethodDelete, base+"?endpoint="+url.QueryEscape("https://push/a"), nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	remaining, _ := registry.Subscriptions(req.Context(), "u1")
	if len(remaining) != 0 {
		t.Fatalf("expected no subscriptions, got %+v", remaining)
	}
}
