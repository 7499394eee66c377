package telemetry

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Registration: Describe() rather than Gather(), since *Vec metrics with no
// observed label combinations are absent from Gather output.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"cct_organizations_registered_total", OrganizationsRegisteredTotal},
		{"cct_projects_registered_total", ProjectsRegisteredTotal},
		{"cct_sales_total", SalesTotal},
		{"cct_sale_duration_seconds", SaleDuration},
		{"cct_units_sold_total", UnitsSoldTotal},
		{"cct_currency_settled_total", CurrencySettledTotal},
		{"cct_events_published_total", EventsPublishedTotal},
		{"cct_event_relay_failures_total", EventRelayFailuresTotal},
		{"cct_archive_segments_total", ArchiveSegmentsTotal},
		{"cct_db_open_connections", DBOpenConnections},
		{"cct_db_in_use_connections", DBInUseConnections},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_SalesTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"outcome": "settled"}
	before := counterValue(t, SalesTotal, labels)
	SalesTotal.WithLabelValues("settled").Inc()
	if after := counterValue(t, SalesTotal, labels); after-before < 1 {
		t.Errorf("SalesTotal.Inc() did not increase counter (before=%.0f after=%.0f)", before, after)
	}
}

func TestMetrics_UnitsSoldTotal_CanBeAdded(t *testing.T) {
	before := plainCounterValue(t, UnitsSoldTotal)
	UnitsSoldTotal.Add(3)
	if after := plainCounterValue(t, UnitsSoldTotal); after-before != 3 {
		t.Errorf("UnitsSoldTotal.Add(3) delta = %.0f, want 3", after-before)
	}
}

func TestMetrics_RecordDBStats(t *testing.T) {
	RecordDBStats(sql.DBStats{OpenConnections: 7, InUse: 3})
	if got := gaugeValue(t, DBOpenConnections); got != 7 {
		t.Errorf("DBOpenConnections = %v, want 7", got)
	}
	if got := gaugeValue(t, DBInUseConnections); got != 3 {
		t.Errorf("DBInUseConnections = %v, want 3", got)
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// counterValue reads the current value of the series in cv matching labels.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 20)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

// plainCounterValue reads the value of a plain (non-vec) Counter.
func plainCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var dm dto.Metric
	if err := c.Write(&dm); err != nil {
		t.Fatalf("counter.Write: %v", err)
	}
	return dm.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var dm dto.Metric
	if err := g.Write(&dm); err != nil {
		t.Fatalf("gauge.Write: %v", err)
	}
	return dm.GetGauge().GetValue()
}

func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	if len(got) != len(want) {
		return false
	}
	for _, lp := range got {
		if want[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}
