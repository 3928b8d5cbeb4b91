// Package web serves the adapter's diagnostics: cover snapshots, a raw
// command passthrough and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"math"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mcalin/inelnet2mqtt/internal/cover"
	"github.com/mcalin/inelnet2mqtt/internal/inelnet"
	"github.com/mcalin/inelnet2mqtt/internal/observability"
	"github.com/sirupsen/logrus"
)

// Gateway is the transport view the server needs. *inelnet.Client
// satisfies it.
type Gateway interface {
	Send(ctx context.Context, cmd inelnet.Command) error
	Online() bool
}

type Server struct {
	registry *cover.Registry
	gateway  Gateway
	metrics  *observability.Metrics
}

func NewServer(registry *cover.Registry, gateway Gateway, metrics *observability.Metrics) *Server {
	return &Server{registry: registry, gateway: gateway, metrics: metrics}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods("GET")
	r.HandleFunc("/covers", s.covers).Methods("GET")
	r.HandleFunc("/command", s.command).Methods("POST")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	return r
}

type healthResponse struct {
	Status string `json:"status"`
	// GatewayOnline reflects recent transport success, not physical
	// confirmation; the RF link reports nothing back.
	GatewayOnline bool `json:"gateway_online"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		GatewayOnline: s.gateway.Online(),
	})
}

type coverSnapshot struct {
	Name     string  `json:"name"`
	Channel  int     `json:"channel"`
	Position float64 `json:"position"`
	State    string  `json:"state"`
	Moving   bool    `json:"moving"`
	Facade   string  `json:"facade"`
	Floor    string  `json:"floor"`
	Shaded   bool    `json:"shaded"`
}

func (s *Server) covers(w http.ResponseWriter, _ *http.Request) {
	snapshots := make([]coverSnapshot, 0, len(s.registry.All()))
	for _, c := range s.registry.All() {
		snapshots = append(snapshots, coverSnapshot{
			Name:     c.Name(),
			Channel:  c.Channel(),
			Position: math.Round(c.Position()*10) / 10,
			State:    c.State(),
			Moving:   c.IsMoving(),
			Facade:   c.Facade(),
			Floor:    c.Floor(),
			Shaded:   c.Shaded(),
		})
	}

	writeJSON(w, http.StatusOK, snapshots)
}

type commandRequest struct {
	Channel int `json:"channel"`
	Action  int `json:"action"`
}

// command is a raw passthrough to the gateway, including programming mode
// (224). It bypasses position tracking entirely; covers moved this way
// drift from their estimates until the next full open or close.
func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmd, err := inelnet.NewCommand(req.Channel, inelnet.Action(req.Action))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	logrus.Infof("web: raw command channel %d %s", cmd.Channel, cmd.Action)

	if err := s.gateway.Send(r.Context(), cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("web: response encode failed: %s", err)
	}
}
