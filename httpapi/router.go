// Package httpapi exposes camera dispatch and Prometheus metrics over HTTP.
package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatcher sends a hex encoded command to a camera
type Dispatcher interface {
	Dispatch(cameraIP string, cameraPort int, rawHex string) error
}

type commandRequest struct {
	Payload string `json:"payload"`
}

type response struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewRouter builds the HTTP handler
func NewRouter(dispatcher Dispatcher, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{Status: "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Post("/cameras/{ip}/{port}/commands", commandHandler(dispatcher))

	return r
}

func commandHandler(dispatcher Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := chi.URLParam(r, "ip")
		if net.ParseIP(ip) == nil {
			writeJSON(w, http.StatusBadRequest, response{Error: "invalid camera ip"})
			return
		}
		port, err := strconv.Atoi(chi.URLParam(r, "port"))
		if err != nil || port <= 0 || port > 65535 {
			writeJSON(w, http.StatusBadRequest, response{Error: "invalid camera port"})
			return
		}

		var request commandRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeJSON(w, http.StatusBadRequest, response{Error: "invalid request body"})
			return
		}
		payload := strings.ReplaceAll(request.Payload, " ", "")
		if _, err := hex.DecodeString(payload); err != nil || payload == "" {
			writeJSON(w, http.StatusBadRequest, response{Error: "payload must be a non-empty hex string"})
			return
		}

		if err := dispatcher.Dispatch(ip, port, payload); err != nil {
			log.Printf("ERROR dispatching %s to %s:%d: %s\n", payload, ip, port, err)
			writeJSON(w, http.StatusBadGateway, response{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, response{Status: "acknowledged"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
