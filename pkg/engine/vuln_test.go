package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/testutil"
)

func paramResource(domain, url string) models.Resource {
	return models.Resource{
		Domain:     domain,
		URL:        url,
		Method:     "GET",
		Parameters: models.StringMap{"q": "search"},
	}
}

func xssFinding(domain, url string) models.Finding {
	return models.Finding{
		Type:      "reflected_xss",
		Severity:  models.SeverityMedium,
		Domain:    domain,
		URL:       url,
		Parameter: "q",
	}
}

func TestVulnProbesParameterizedResourcesOnly(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 5*time.Second)
	defer cancel()

	store := newFakeStore()
	store.resources = []models.Resource{
		paramResource("example.com", "https://example.com/search"),
		paramResource("example.com", "https://example.com/filter"),
		{Domain: "example.com", URL: "https://example.com/about", Method: "GET"},
	}

	probe := newFakeVulnProbe()
	probe.findings["https://example.com/search"] = []models.Finding{
		xssFinding("example.com", "https://example.com/search"),
	}

	phase := NewVulnerabilityPhase(store, probe)
	summary, err := phase.Run(ctx, "example.com")
	testutil.AssertNoError(t, err)

	testutil.AssertEquals(t, 2, summary.Probed)
	testutil.AssertEquals(t, 1, summary.Findings)
	testutil.AssertEquals(t, 1, len(store.findings))
	testutil.AssertEquals(t, 2, len(probe.probedURLs()))
	for _, url := range probe.probedURLs() {
		if url == "https://example.com/about" {
			t.Fatal("resource without parameters must not be probed")
		}
	}
}

func TestVulnProbeFailureIsIsolated(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 5*time.Second)
	defer cancel()

	store := newFakeStore()
	store.resources = []models.Resource{
		paramResource("example.com", "https://example.com/broken"),
		paramResource("example.com", "https://example.com/search"),
	}

	probe := newFakeVulnProbe()
	probe.errs["https://example.com/broken"] = errors.New("tls handshake failure")
	probe.findings["https://example.com/search"] = []models.Finding{
		xssFinding("example.com", "https://example.com/search"),
	}

	phase := NewVulnerabilityPhase(store, probe)
	summary, err := phase.Run(ctx, "example.com")
	testutil.AssertNoError(t, err)

	testutil.AssertEquals(t, 2, summary.Probed)
	testutil.AssertEquals(t, 1, summary.Failed)
	testutil.AssertEquals(t, 1, summary.Findings)
	testutil.AssertEquals(t, 1, len(store.findings))
}

func TestVulnPartialFindingsSurviveProbeError(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 5*time.Second)
	defer cancel()

	store := newFakeStore()
	store.resources = []models.Resource{
		paramResource("example.com", "https://example.com/search"),
	}

	// The probe got one hit in before dying; the hit must be kept.
	probe := newFakeVulnProbe()
	probe.findings["https://example.com/search"] = []models.Finding{
		xssFinding("example.com", "https://example.com/search"),
	}
	probe.errs["https://example.com/search"] = errors.New("read timeout")

	phase := NewVulnerabilityPhase(store, probe)
	summary, err := phase.Run(ctx, "example.com")
	testutil.AssertNoError(t, err)

	testutil.AssertEquals(t, 1, summary.Failed)
	testutil.AssertEquals(t, 1, summary.Findings)
	testutil.AssertEquals(t, 1, len(store.findings))
}

func TestVulnQueryFailureIsFatal(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 5*time.Second)
	defer cancel()

	store := newFakeStore()
	store.queryErr = errors.New("connection refused")

	phase := NewVulnerabilityPhase(store, newFakeVulnProbe())
	_, err := phase.Run(ctx, "example.com")
	testutil.AssertError(t, err)
}

func TestVulnNothingToProbe(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, time.Second)
	defer cancel()

	probe := newFakeVulnProbe()
	phase := NewVulnerabilityPhase(newFakeStore(), probe)
	summary, err := phase.Run(ctx, "example.com")

	testutil.AssertNoError(t, err)
	testutil.AssertEquals(t, 0, summary.Probed)
	testutil.AssertEquals(t, 0, len(probe.probedURLs()))
}

func TestVulnAppendFailureCountsAsFailure(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 5*time.Second)
	defer cancel()

	store := newFakeStore()
	store.appendErr = errors.New("disk full")
	store.resources = []models.Resource{
		paramResource("example.com", "https://example.com/search"),
	}

	probe := newFakeVulnProbe()
	probe.findings["https://example.com/search"] = []models.Finding{
		xssFinding("example.com", "https://example.com/search"),
	}

	phase := NewVulnerabilityPhase(store, probe)
	summary, err := phase.Run(ctx, "example.com")
	testutil.AssertNoError(t, err)

	testutil.AssertEquals(t, 1, summary.Failed)
	testutil.AssertEquals(t, 0, summary.Findings)
	testutil.AssertEquals(t, 0, len(store.findings))
}
