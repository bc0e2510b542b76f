package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter configures the JSON-RPC HTTP ingress of spec.md §6: a single
// POST endpoint dispatching on the envelope's "method" field.
func NewRouter(h *Handlers, log *logrus.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Use(RequestLogger(log))
	r.Use(JSONHeaders)

	r.HandleFunc("/", h.Dispatch).Methods(http.MethodPost)

	return r
}
