// Package metrics renders the aggregator state in the Prometheus text
// exposition format, so the dashboard counts can be scraped as gauges.
package metrics

import (
	"context"
	"io"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/hamed0406/statusgrid/internal/aggregator"
	"github.com/hamed0406/statusgrid/internal/domain"
)

const namespace = "statusgrid_"

// Source is the read side of the aggregator.
type Source interface {
	Snapshot(ctx context.Context) (aggregator.Snapshot, error)
}

// Families builds one gauge family per exported value. Pending endpoints
// have no up or response-time sample.
func Families(snap aggregator.Snapshot) []*dto.MetricFamily {
	up := family("endpoint_up", "Whether the last probe of the endpoint succeeded (1=online, 0=offline).")
	rt := family("endpoint_response_time_ms", "Response time of the last probe in milliseconds.")
	for i, r := range snap.Results {
		if r.Status == domain.StatusPending || r.ResponseTimeMS == nil {
			continue
		}
		env := ""
		if i < len(snap.Endpoints) {
			env = string(snap.Endpoints[i].Environment)
		}
		labels := []*dto.LabelPair{
			label("url", r.URL),
			label("name", r.Name),
			label("environment", env),
		}
		v := 0.0
		if r.Online() {
			v = 1
		}
		up.Metric = append(up.Metric, gauge(v, labels...))
		rt.Metric = append(rt.Metric, gauge(float64(*r.ResponseTimeMS), labels...))
	}

	online := family("online", "Endpoints whose last probe succeeded.")
	total := family("total", "Endpoints in the registry.")
	for _, g := range []struct {
		env string
		c   domain.Counts
	}{
		{"all", snap.Summary.All},
		{string(domain.Prod), snap.Summary.Prod},
		{string(domain.Stage), snap.Summary.Stage},
	} {
		online.Metric = append(online.Metric, gauge(float64(g.c.Online), label("environment", g.env)))
		total.Metric = append(total.Metric, gauge(float64(g.c.Total), label("environment", g.env)))
	}

	refreshing := family("refreshing", "1 while a refresh cycle is in flight.")
	rv := 0.0
	if snap.Refreshing {
		rv = 1
	}
	refreshing.Metric = append(refreshing.Metric, gauge(rv))

	out := []*dto.MetricFamily{online, total, refreshing}
	if len(up.Metric) > 0 {
		out = append(out, up, rt)
	}
	return out
}

// Write encodes snap in the text format.
func Write(w io.Writer, snap aggregator.Snapshot) error {
	for _, mf := range Families(snap) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the current snapshot of src.
func Handler(src Source, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := src.Snapshot(r.Context())
		if err != nil {
			logger.Warn("metrics_snapshot_error", zap.Error(err))
			http.Error(w, "snapshot error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := Write(w, snap); err != nil {
			logger.Warn("metrics_write_error", zap.Error(err))
		}
	})
}

func family(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(namespace + name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: proto.Float64(v)}}
}
