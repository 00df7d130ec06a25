package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ntsmith7/peekaboo/pkg/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()

	r.ScanStarted()
	r.ScanStarted()
	r.ScanFinished("completed")
	r.TargetsDiscovered("passive", 12)
	r.TargetsDiscovered("base", 1)
	r.ResourcesDiscovered(40)
	r.FindingsRecorded("medium", 3)
	r.ObservePhase("discovery", 42.5)

	testutil.AssertEquals(t, 1.0, promtest.ToFloat64(r.activeScans))
	testutil.AssertEquals(t, 1.0, promtest.ToFloat64(r.scansTotal.WithLabelValues("completed")))
	testutil.AssertEquals(t, 12.0, promtest.ToFloat64(r.targetsDiscovered.WithLabelValues("passive")))
	testutil.AssertEquals(t, 40.0, promtest.ToFloat64(r.resourcesDiscovered))
	testutil.AssertEquals(t, 3.0, promtest.ToFloat64(r.findingsTotal.WithLabelValues("medium")))
}

func TestRecorderZeroAndNegativeAddsIgnored(t *testing.T) {
	r := NewRecorder()
	r.TargetsDiscovered("passive", 0)
	r.ResourcesDiscovered(-5)

	testutil.AssertEquals(t, 0.0, promtest.ToFloat64(r.targetsDiscovered.WithLabelValues("passive")))
	testutil.AssertEquals(t, 0.0, promtest.ToFloat64(r.resourcesDiscovered))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ScanStarted()
	r.ScanFinished("failed")
	r.ObservePhase("crawl", 1)
	r.TargetsDiscovered("base", 1)
	r.ResourcesDiscovered(1)
	r.FindingsRecorded("high", 1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)
	testutil.AssertEquals(t, 404, rec.Code)
}

func TestHandlerServesExposition(t *testing.T) {
	r := NewRecorder()
	r.ScanStarted()
	r.ScanFinished("completed")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	testutil.AssertEquals(t, 200, rec.Code)
	body := rec.Body.String()
	if !strings.Contains(body, "peekaboo_scans_total") {
		t.Errorf("exposition missing scan counter:\n%s", body)
	}
}
