// Package promtest reads the metrics a node serves on /metrics. It is only
// intended to be called from test files.
package promtest

import (
	"io"
	"net/http"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// FromHTTPResponse parses the metric families in r and closes its body.
func FromHTTPResponse(r *http.Response) ([]*dto.MetricFamily, error) {
	defer r.Body.Close()

	dec := expfmt.NewDecoder(r.Body, expfmt.ResponseFormat(r.Header))
	var mfs []*dto.MetricFamily
	for {
		mf := new(dto.MetricFamily)
		if err := dec.Decode(mf); err != nil {
			if err == io.EOF {
				return mfs, nil
			}
			return nil, err
		}
		mfs = append(mfs, mf)
	}
}

// FindMetric returns the first metric of family name that carries every
// label in labels. Labels not named in labels are ignored.
func FindMetric(mfs []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if hasLabels(m, labels) {
				return m
			}
		}
	}
	return nil
}

// MustFindMetric is FindMetric that fails tb when nothing matches.
func MustFindMetric(tb testing.TB, mfs []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	tb.Helper()

	m := FindMetric(mfs, name, labels)
	if m == nil {
		tb.Logf("available families:")
		for _, mf := range mfs {
			tb.Logf("\t%s (%d series)", mf.GetName(), len(mf.Metric))
		}
		tb.Fatalf("no %s metric with labels %v", name, labels)
	}
	return m
}

// Value returns the value of a counter or gauge, or the sample count of a
// histogram.
func Value(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetHistogram() != nil:
		return float64(m.GetHistogram().GetSampleCount())
	default:
		return m.GetUntyped().GetValue()
	}
}

func hasLabels(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, l := range m.Label {
		want, ok := labels[l.GetName()]
		if !ok {
			continue
		}
		if want != l.GetValue() {
			return false
		}
		found++
	}
	return found == len(labels)
}
