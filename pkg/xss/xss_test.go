package xss

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/testutil"
)

func reflectingServer(t *testing.T, escape bool) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q := r.FormValue("q")
		if escape {
			q = html.EscapeString(q)
		}
		fmt.Fprintf(w, "<html><body>Results for %s</body></html>", q)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func searchResource(serverURL string) *models.Resource {
	return &models.Resource{
		Domain:     "www.example.com",
		URL:        serverURL + "/search",
		Method:     "GET",
		Parameters: models.StringMap{"q": "original"},
	}
}

func TestProbeFindsReflectedPayload(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 15*time.Second)
	defer cancel()

	server, _ := reflectingServer(t, false)
	s := NewScanner()

	findings, err := s.Probe(ctx, searchResource(server.URL))
	testutil.AssertNoError(t, err)

	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	f := findings[0]
	testutil.AssertEquals(t, FindingType, f.Type)
	testutil.AssertEquals(t, "q", f.Parameter)
	testutil.AssertEquals(t, models.SeverityMedium, f.Severity)
	testutil.AssertEquals(t, ContextScript, f.Context)
	if !strings.Contains(f.Proof, f.Payload) {
		t.Errorf("proof should contain the payload, got: %s", f.Proof)
	}
}

func TestProbeStopsAfterFirstHitPerParameter(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 15*time.Second)
	defer cancel()

	server, hits := reflectingServer(t, false)
	s := NewScanner()

	findings, err := s.Probe(ctx, searchResource(server.URL))
	testutil.AssertNoError(t, err)

	testutil.AssertEquals(t, 1, len(findings))
	if got := atomic.LoadInt64(hits); got != 1 {
		t.Errorf("expected probing to stop after the first hit, server saw %d requests", got)
	}
}

func TestProbeEscapedReflectionIsNotAFinding(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 15*time.Second)
	defer cancel()

	server, hits := reflectingServer(t, true)
	s := NewScanner()

	findings, err := s.Probe(ctx, searchResource(server.URL))
	testutil.AssertNoError(t, err)

	if len(findings) != 0 {
		t.Fatalf("escaped output should not produce findings, got %v", findings)
	}
	if got := atomic.LoadInt64(hits); got != int64(len(defaultPayloads)) {
		t.Errorf("expected every payload to be tried, server saw %d requests", got)
	}
}

func TestProbeSkipsResourceWithoutParameters(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 5*time.Second)
	defer cancel()

	s := NewScanner()
	findings, err := s.Probe(ctx, &models.Resource{URL: "https://www.example.com/static"})
	testutil.AssertNoError(t, err)
	if findings != nil {
		t.Errorf("expected no findings, got %v", findings)
	}
}

func TestProbeAuthenticatedSeverity(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 15*time.Second)
	defer cancel()

	server, _ := reflectingServer(t, false)
	s := NewScanner(WithAuthenticated(true))

	findings, err := s.Probe(ctx, searchResource(server.URL))
	testutil.AssertNoError(t, err)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	testutil.AssertEquals(t, models.SeverityHigh, findings[0].Severity)
}

func TestProbeKeepsOtherParameterValues(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 15*time.Second)
	defer cancel()

	var sawPage atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sawPage.Store(r.FormValue("page"))
		fmt.Fprintf(w, "<html><body>%s</body></html>", r.FormValue("q"))
	}))
	t.Cleanup(server.Close)

	resource := &models.Resource{
		Domain:     "www.example.com",
		URL:        server.URL + "/search",
		Method:     "GET",
		Parameters: models.StringMap{"q": "original", "page": "2"},
	}

	s := NewScanner(WithPayloads([]string{`<script>alert(1)</script>`}))
	_, err := s.Probe(ctx, resource)
	testutil.AssertNoError(t, err)

	if got, _ := sawPage.Load().(string); got != "2" {
		t.Errorf("expected untouched parameter to keep its value, got %q", got)
	}
}

func TestProbeSafePayloadStaysGET(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t, 15*time.Second)
	defer cancel()

	var sawMethod atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawMethod.Store(r.Method)
		fmt.Fprintf(w, "<html><body>%s</body></html>", r.URL.Query().Get("q"))
	}))
	t.Cleanup(server.Close)

	s := NewScanner(WithPayloads([]string{"plainmarker12345"}))
	findings, err := s.Probe(ctx, searchResource(server.URL))
	testutil.AssertNoError(t, err)

	if got, _ := sawMethod.Load().(string); got != http.MethodGet {
		t.Errorf("markup-free payload should keep the GET method, got %s", got)
	}
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	testutil.AssertEquals(t, ContextHTML, findings[0].Context)
}

func TestProbeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	server, _ := reflectingServer(t, false)
	s := NewScanner()

	_, err := s.Probe(ctx, searchResource(server.URL))
	testutil.AssertError(t, err)
}

func TestClassifyContext(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		payload string
		want    string
	}{
		{
			name:    "injected script element",
			body:    `<html><body>Results for <script>alert(1)</script></body></html>`,
			payload: `<script>alert(1)</script>`,
			want:    ContextScript,
		},
		{
			name:    "injected img element",
			body:    `<html><body><img src=x onerror=alert(1)></body></html>`,
			payload: `<img src=x onerror=alert(1)>`,
			want:    ContextHTML,
		},
		{
			name:    "reflection inside existing script",
			body:    `<html><head><script>var q = '';alert(1)//';</script></head></html>`,
			payload: `';alert(1)//`,
			want:    ContextScript,
		},
		{
			name:    "reflection inside attribute value",
			body:    `<html><body><input value="xx';alert(1)//xx"></body></html>`,
			payload: `';alert(1)//`,
			want:    ContextAttribute,
		},
		{
			name:    "reflection in visible text",
			body:    `<html><body>you searched for qqmarker</body></html>`,
			payload: `qqmarker`,
			want:    ContextHTML,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			testutil.AssertEquals(t, tc.want, classifyContext(tc.body, tc.payload))
		})
	}
}

func TestExtractProof(t *testing.T) {
	payload := `<script>alert(1)</script>`
	body := strings.Repeat("a", 100) + payload + strings.Repeat("b", 100)

	proof := extractProof(body, payload)
	wantLen := proofMargin + len(payload) + proofMargin
	testutil.AssertEquals(t, wantLen, len(proof))
	if !strings.HasPrefix(proof, strings.Repeat("a", proofMargin)) {
		t.Error("proof should open with the leading context")
	}
	if !strings.HasSuffix(proof, strings.Repeat("b", proofMargin)) {
		t.Error("proof should close with the trailing context")
	}
}
