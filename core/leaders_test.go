package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStaticLeaderSource(t *testing.T) {
	s := NewStaticLeaderSource("10.0.0.1")
	got := s.CurrentLeaders(context.Background())
	if len(got) != 1 || got[0].IP != "10.0.0.1" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestDynamicLeaderSourceRefreshAndPreferredTagging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]scheduleEntry{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}})
	}))
	defer srv.Close()

	prefSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]string{"10.0.0.2"})
	}))
	defer prefSrv.Close()

	pref := NewPreferredValidatorList(prefSrv.URL, 20*time.Millisecond, nil)
	defer pref.Close()
	time.Sleep(30 * time.Millisecond)

	d := NewDynamicLeaderSource(srv.URL, 20*time.Millisecond, pref, nil)
	defer d.Close()

	got := d.CurrentLeaders(context.Background())
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	byIP := map[string]LeaderEntry{}
	for _, e := range got {
		byIP[e.IP] = e
	}
	if byIP["10.0.0.1"].Trusted {
		t.Fatal("10.0.0.1 should not be trusted")
	}
	if !byIP["10.0.0.2"].Trusted {
		t.Fatal("10.0.0.2 should be trusted")
	}
}

func TestDynamicLeaderSourceKeepsStaleSnapshotOnEmptyFetch(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_ = json.NewEncoder(w).Encode([]scheduleEntry{{IP: "10.0.0.1"}})
			return
		}
		_ = json.NewEncoder(w).Encode([]scheduleEntry{})
	}))
	defer srv.Close()

	d := NewDynamicLeaderSource(srv.URL, 20*time.Millisecond, nil, nil)
	defer d.Close()

	time.Sleep(60 * time.Millisecond)
	got := d.CurrentLeaders(context.Background())
	if len(got) != 1 || got[0].IP != "10.0.0.1" {
		t.Fatalf("expected stale snapshot to be kept, got %+v", got)
	}
}
