package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ChainClient answers whether a submitted signature has landed and
// finalized on chain. It is the seam between the confirmation watcher and
// whatever RPC surface the destination chain exposes, per spec.md §4.4.
type ChainClient interface {
	GetSignatureStatus(ctx context.Context, signature string) (finalized bool, err error)
}

// HTTPChainClient is the default ChainClient, speaking a JSON-RPC 2.0
// getSignatureStatuses call against a single chain RPC endpoint.
type HTTPChainClient struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPChainClient returns an HTTPChainClient gated by a shared rate
// limiter so many concurrent watchers do not overrun the chain RPC node.
func NewHTTPChainClient(url string, limiter *rate.Limiter) *HTTPChainClient {
	return &HTTPChainClient{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcSignatureStatusResponse struct {
	Result struct {
		Value []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GetSignatureStatus implements ChainClient.
func (c *HTTPChainClient) GetSignatureStatus(ctx context.Context, signature string) (bool, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getSignatureStatuses",
		Params:  []any{[]string{signature}, map[string]bool{"searchTransactionHistory": true}},
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var parsed rpcSignatureStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, err
	}
	if parsed.Error != nil {
		return false, fmt.Errorf("chain rpc error: %s", parsed.Error.Message)
	}
	if len(parsed.Result.Value) == 0 || parsed.Result.Value[0] == nil {
		return false, nil
	}

	status := parsed.Result.Value[0]
	if status.Err != nil {
		return false, nil
	}
	return status.ConfirmationStatus == "finalized", nil
}

// Watcher polls a ChainClient for a bounded number of attempts at a fixed
// spacing, fire-and-forget from the engine's perspective per spec.md §4.4 —
// it never blocks Submit and never removes a record from the store itself;
// RemoveOnConfirmation callers act on its return value.
type Watcher struct {
	client   ChainClient
	attempts int
	interval time.Duration
	metrics  *Metrics
	log      *logrus.Logger
}

// NewWatcher constructs a Watcher. metrics and log may be nil in tests.
func NewWatcher(client ChainClient, attempts int, interval time.Duration, metrics *Metrics, log *logrus.Logger) *Watcher {
	return &Watcher{
		client:   client,
		attempts: attempts,
		interval: interval,
		metrics:  metrics,
		log:      log,
	}
}

// AwaitConfirmation polls until the signature finalizes, the attempt budget
// is exhausted, or ctx is cancelled. The returned time.Time is the moment
// finalization was observed; the bool reports whether it finalized at all.
func (w *Watcher) AwaitConfirmation(ctx context.Context, signature, apiKey string) (time.Time, bool) {
	for attempt := 0; attempt < w.attempts; attempt++ {
		finalized, err := w.client.GetSignatureStatus(ctx, signature)
		if err != nil {
			if w.log != nil {
				w.log.WithError(err).WithField("signature", signature).Warn("confirmation poll failed")
			}
		} else if finalized {
			at := time.Now()
			if w.metrics != nil {
				w.metrics.IncConfirmation(apiKey, "landed")
			}
			return at, true
		}

		select {
		case <-ctx.Done():
			return time.Time{}, false
		case <-time.After(w.interval):
		}
	}

	if w.metrics != nil {
		w.metrics.IncConfirmation(apiKey, "not_landed")
	}
	return time.Time{}, false
}
