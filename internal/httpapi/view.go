package httpapi

import (
	"github.com/hamed0406/statusgrid/internal/aggregator"
	"github.com/hamed0406/statusgrid/internal/domain"
)

// EndpointStatus is a result annotated with its endpoint's environment.
type EndpointStatus struct {
	domain.Result
	Environment domain.Environment `json:"environment"`
}

// StatusView is the JSON shape of /api/status and of WebSocket pushes.
type StatusView struct {
	Version    uint64           `json:"version"`
	Refreshing bool             `json:"refreshing"`
	Results    []EndpointStatus `json:"results"`
	Summary    domain.Summary   `json:"summary"`
}

func NewStatusView(snap aggregator.Snapshot) StatusView {
	out := StatusView{
		Version:    snap.Version,
		Refreshing: snap.Refreshing,
		Results:    make([]EndpointStatus, len(snap.Results)),
		Summary:    snap.Summary,
	}
	for i, r := range snap.Results {
		es := EndpointStatus{Result: r}
		if i < len(snap.Endpoints) {
			es.Environment = snap.Endpoints[i].Environment
		}
		out.Results[i] = es
	}
	return out
}

// Only keeps the results of one environment. Counts stay global.
func (v StatusView) Only(env domain.Environment) StatusView {
	kept := make([]EndpointStatus, 0, len(v.Results))
	for _, r := range v.Results {
		if r.Environment == env {
			kept = append(kept, r)
		}
	}
	v.Results = kept
	return v
}

// WireView adapts NewStatusView for the WebSocket hub.
func WireView(snap aggregator.Snapshot) any { return NewStatusView(snap) }
