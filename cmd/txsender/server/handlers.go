package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/paladin-bladesmith/p3-txn-sender/core"
)

// Submitter is the seam between the JSON-RPC ingress and the send/retry
// engine, satisfied by *core.Engine.
type Submitter interface {
	Submit(ctx context.Context, rec *core.Record) (string, error)
}

// RoutePorts carries the two logical destination ports spec.md §6 names.
type RoutePorts struct {
	P3  uint16
	MEV uint16
}

// Handlers implements the JSON-RPC 2.0 envelope of spec.md §6: the
// "health" and "sendTransaction" methods, built on the teacher's
// routes/middleware/handlers split (cmd/xchainserver/server) generalized
// from REST bridge-admin endpoints to a single-method JSON-RPC dispatcher.
type Handlers struct {
	engine     Submitter
	serviceCap int
	ports      RoutePorts
}

// NewHandlers constructs a Handlers bound to engine.
func NewHandlers(engine Submitter, serviceCap int, ports RoutePorts) *Handlers {
	return &Handlers{engine: engine, serviceCap: serviceCap, ports: ports}
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

const (
	rpcCodeInvalidRequest = -32600
	rpcCodeParseError     = -32700
)

// Dispatch is the single POST handler for the JSON-RPC ingress.
func (h *Handlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	var env rpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeRPCError(w, nil, rpcCodeParseError, "parse error: "+err.Error())
		return
	}

	switch env.Method {
	case "health":
		writeRPCResult(w, env.ID, "ok")
	case "sendTransaction":
		h.sendTransaction(w, r.Context(), env)
	default:
		writeRPCError(w, env.ID, rpcCodeInvalidRequest, "unknown method: "+env.Method)
	}
}

type sendTransactionParams struct {
	Encoded string `json:"encoded"`
	Config  struct {
		Encoding      string `json:"encoding"`
		SkipPreflight *bool  `json:"skipPreflight"`
		MaxRetries    *int   `json:"maxRetries"`
	} `json:"config"`
	RequestMetadata struct {
		APIKey   string `json:"apiKey"`
		SendPort string `json:"sendPort"`
	} `json:"request_metadata"`
}

func (h *Handlers) sendTransaction(w http.ResponseWriter, ctx context.Context, env rpcEnvelope) {
	var p sendTransactionParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		writeRPCError(w, env.ID, rpcCodeInvalidRequest, "invalid params: "+err.Error())
		return
	}

	if p.Config.SkipPreflight == nil || !*p.Config.SkipPreflight {
		writeRPCError(w, env.ID, rpcCodeInvalidRequest, "running preflight check is not supported")
		return
	}

	payload, signature, err := core.DecodeWireTransaction(p.Encoded, p.Config.Encoding)
	if err != nil {
		writeRPCError(w, env.ID, rpcCodeInvalidRequest, "unsupported encoding or decode failure: "+err.Error())
		return
	}

	maxRetries := h.serviceCap
	if p.Config.MaxRetries != nil && *p.Config.MaxRetries < maxRetries {
		maxRetries = *p.Config.MaxRetries
	}

	apiKey := p.RequestMetadata.APIKey
	if apiKey == "" {
		apiKey = "none"
	}

	routePort := h.ports.P3
	if p.RequestMetadata.SendPort == "MEV" {
		routePort = h.ports.MEV
	}

	rec := &core.Record{
		WirePayload: payload,
		Signature:   signature,
		SubmittedAt: time.Now(),
		MaxRetries:  maxRetries,
		RoutePort:   routePort,
		APIKey:      apiKey,
	}

	sig, err := h.engine.Submit(ctx, rec)
	if err != nil {
		writeRPCError(w, env.ID, rpcCodeInvalidRequest, err.Error())
		return
	}
	writeRPCResult(w, env.ID, sig)
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}
