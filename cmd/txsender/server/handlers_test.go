package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"github.com/paladin-bladesmith/p3-txn-sender/core"
)

type mockSubmitter struct {
	lastRec *core.Record
	err     error
}

func (m *mockSubmitter) Submit(_ context.Context, rec *core.Record) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.lastRec = rec
	return rec.Signature, nil
}

func newTestRouter(sub Submitter) *httptest.Server {
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	h := NewHandlers(sub, 5, RoutePorts{P3: 4819, MEV: 4820})
	return httptest.NewServer(NewRouter(h, log))
}

func encodedValidTx() string {
	raw := make([]byte, 1+64)
	raw[0] = 1
	for i := range raw[1:] {
		raw[1+i] = byte(i)
	}
	return base58.Encode(raw)
}

func rpcCall(t *testing.T, srv *httptest.Server, method string, params any) map[string]any {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHealthReturnsOK(t *testing.T) {
	srv := newTestRouter(&mockSubmitter{})
	defer srv.Close()

	out := rpcCall(t, srv, "health", nil)
	if out["result"] != "ok" {
		t.Fatalf("expected result ok, got %+v", out)
	}
}

func TestSendTransactionRejectsPreflight(t *testing.T) {
	srv := newTestRouter(&mockSubmitter{})
	defer srv.Close()

	skip := false
	out := rpcCall(t, srv, "sendTransaction", map[string]any{
		"encoded": encodedValidTx(),
		"config":  map[string]any{"skipPreflight": skip},
	})
	errObj, ok := out["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error, got %+v", out)
	}
	if msg, _ := errObj["message"].(string); msg != "running preflight check is not supported" {
		t.Fatalf("unexpected error message: %v", msg)
	}
}

func TestSendTransactionRejectsUnsupportedEncoding(t *testing.T) {
	srv := newTestRouter(&mockSubmitter{})
	defer srv.Close()

	out := rpcCall(t, srv, "sendTransaction", map[string]any{
		"encoded": "zz",
		"config":  map[string]any{"skipPreflight": true, "encoding": "base16"},
	})
	if _, ok := out["error"]; !ok {
		t.Fatalf("expected error, got %+v", out)
	}
}

func TestSendTransactionSuccessDefaultsApiKeyAndRoute(t *testing.T) {
	sub := &mockSubmitter{}
	srv := newTestRouter(sub)
	defer srv.Close()

	out := rpcCall(t, srv, "sendTransaction", map[string]any{
		"encoded": encodedValidTx(),
		"config":  map[string]any{"skipPreflight": true},
	})
	if _, ok := out["result"].(string); !ok {
		t.Fatalf("expected string result, got %+v", out)
	}
	if sub.lastRec.APIKey != "none" {
		t.Fatalf("expected default apiKey none, got %q", sub.lastRec.APIKey)
	}
	if sub.lastRec.RoutePort != 4819 {
		t.Fatalf("expected default P3 route port, got %d", sub.lastRec.RoutePort)
	}
}

func TestSendTransactionMEVRoute(t *testing.T) {
	sub := &mockSubmitter{}
	srv := newTestRouter(sub)
	defer srv.Close()

	rpcCall(t, srv, "sendTransaction", map[string]any{
		"encoded":          encodedValidTx(),
		"config":           map[string]any{"skipPreflight": true},
		"request_metadata": map[string]any{"sendPort": "MEV", "apiKey": "abc"},
	})
	if sub.lastRec.RoutePort != 4820 {
		t.Fatalf("expected MEV route port, got %d", sub.lastRec.RoutePort)
	}
	if sub.lastRec.APIKey != "abc" {
		t.Fatalf("expected apiKey abc, got %q", sub.lastRec.APIKey)
	}
}

func TestSendTransactionMaxRetriesCappedByServiceCap(t *testing.T) {
	sub := &mockSubmitter{}
	srv := newTestRouter(sub)
	defer srv.Close()

	rpcCall(t, srv, "sendTransaction", map[string]any{
		"encoded": encodedValidTx(),
		"config":  map[string]any{"skipPreflight": true, "maxRetries": 999},
	})
	if sub.lastRec.MaxRetries != 5 {
		t.Fatalf("expected max_retries capped to service_cap 5, got %d", sub.lastRec.MaxRetries)
	}
}
