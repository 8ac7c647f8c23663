package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/autoparts/compat-engine/pkg/api"
	"github.com/autoparts/compat-engine/pkg/compat"
	"github.com/autoparts/compat-engine/pkg/conformity"
	"github.com/autoparts/compat-engine/pkg/criteria"
)

// withServer points the CLI at handler and captures its output.
func withServer(t *testing.T, format string, handler http.HandlerFunc) *bytes.Buffer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	prevURL, prevFmt, prevOut := serverURL, outputFmt, stdout
	var buf bytes.Buffer
	serverURL, outputFmt, stdout = srv.URL, format, &buf
	t.Cleanup(func() { serverURL, outputFmt, stdout = prevURL, prevFmt, prevOut })
	return &buf
}

func sampleMetrics() api.MetricsResponse {
	records := []conformity.Record{
		{GammeID: 10, GammeName: "Disques de frein", CatalogValid: 100, CoveredV2V3: 60, ExpectedV4: 40, ActualV4: 35,
			Missing: 5, MissingVariants: 5, Status: conformity.StatusNonConforme},
		{GammeID: 30, GammeName: "Bougies", CatalogValid: 10, CoveredV2V3: 4, ExpectedV4: 6, ActualV4: 6,
			Status: conformity.StatusConforme},
		{GammeID: 20, GammeName: "Filtre à air", Status: conformity.StatusError, Err: "store.conformity_counts: BackendUnavailable"},
	}
	return api.MetricsResponse{Metrics: records, KPIs: conformity.Summarize(records)}
}

func TestConformityMetricsTable(t *testing.T) {
	var gotQuery string
	out := withServer(t, "table", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conformity/metrics" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sampleMetrics())
	})

	auditPartitioned = true
	t.Cleanup(func() { auditPartitioned = false })

	if err := runConformityMetrics(conformityMetricsCmd, nil); err != nil {
		t.Fatalf("metrics failed: %v", err)
	}
	if gotQuery != "partitioned=true" {
		t.Errorf("query = %q, want partitioned=true", gotQuery)
	}

	text := out.String()
	for _, want := range []string{"PG_ID", "NON_CONFORME", "CONFORME", "ERROR: store.conformity_counts", "3 gammes: 1 conformes, 1 non conformes, 1 errored"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestConformityMetricsJSONRoundTrip(t *testing.T) {
	out := withServer(t, "json", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("pg_id"); got != "10" {
			t.Errorf("pg_id = %q, want 10", got)
		}
		json.NewEncoder(w).Encode(sampleMetrics())
	})

	auditGamme = 10
	t.Cleanup(func() { auditGamme = 0 })

	if err := runConformityMetrics(conformityMetricsCmd, nil); err != nil {
		t.Fatalf("metrics failed: %v", err)
	}

	var raw struct {
		Metrics []map[string]any `json:"metrics"`
	}
	if err := json.Unmarshal(out.Bytes(), &raw); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(raw.Metrics) != 3 {
		t.Fatalf("got %d records, want 3", len(raw.Metrics))
	}
	if raw.Metrics[2]["missing"] != nil {
		t.Errorf("ERROR record counters should stay null, got %v", raw.Metrics[2]["missing"])
	}
	if raw.Metrics[0]["missing"] != float64(5) {
		t.Errorf("missing = %v, want 5", raw.Metrics[0]["missing"])
	}
}

func TestConformityDrilldown(t *testing.T) {
	out := withServer(t, "table", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conformity/10/missing":
			json.NewEncoder(w).Encode([]conformity.MissingEntry{
				{GammeID: 10, VariantID: 10096, ModelName: "CLIO III", VariantName: "1.5 dCi", Fuel: "Diesel"},
			})
		case "/conformity/20/extras":
			json.NewEncoder(w).Encode([]conformity.ExtraEntry{
				{GammeID: 20, VariantID: 20001, KeywordID: 20001, KeywordText: "filtre air clio"},
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	if err := runConformityMissing(conformityMissingCmd, []string{"10"}); err != nil {
		t.Fatalf("missing failed: %v", err)
	}
	if err := runConformityExtras(conformityExtrasCmd, []string{"20"}); err != nil {
		t.Fatalf("extras failed: %v", err)
	}

	text := out.String()
	for _, want := range []string{"10096", "CLIO III", "1 missing variants", "filtre air clio", "1 extra variants"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	if err := runConformityMissing(conformityMissingCmd, []string{"0"}); err == nil {
		t.Error("expected error for non-positive gamme id")
	}
}

func TestPiecesForwardsQuery(t *testing.T) {
	out := withServer(t, "table", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/catalog/pieces/7/402" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("limit") != "10" || q.Get("sort") != "-brand" || q.Get("position") != "front" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(api.PiecesResponse{
			Pieces: []compat.ResolvedPart{
				{PieceID: 11, BrandName: "BOSCH", Reference: "0 986 494 123", Name: "Plaquettes",
					Position: criteria.PositionFrontLeft, Provenance: criteria.ProvenanceInferred,
					MatchedKeywords: []string{"avant", "gauche"}},
				{PieceID: 13, BrandName: "TRW", Reference: "GDB1330", Name: "Plaquettes",
					Position: criteria.PositionUnknown, Provenance: criteria.ProvenanceNone, PositionUnverified: true},
			},
			Count: 12,
			Page:  2,
			Limit: 10,
		})
	})

	piecesPage, piecesLimit, piecesSort, piecesPosition = 2, 10, "-brand", "front"
	t.Cleanup(func() { piecesPage, piecesLimit, piecesSort, piecesPosition = 1, 50, "", "" })

	if err := runPieces(piecesCmd, []string{"7", "402"}); err != nil {
		t.Fatalf("pieces failed: %v", err)
	}

	text := out.String()
	for _, want := range []string{"front-left (inferred)", "avant,gauche", "unknown (none) unverified", "page 2, 2 of 12 parts"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestHealth(t *testing.T) {
	out := withServer(t, "yaml", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			json.NewEncoder(w).Encode(map[string]string{"status": "alive", "uptime": "5m"})
		case "/readyz":
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "database down", "kind": "BackendUnavailable"})
		}
	})

	if err := runHealth(healthCmd, nil); err != nil {
		t.Fatalf("health failed: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "status: alive") {
		t.Errorf("missing liveness in output:\n%s", text)
	}
	if !strings.Contains(text, "status: not_ready") {
		t.Errorf("missing readiness in output:\n%s", text)
	}
}

func TestClientErrorHandling(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		header  string
		wantAll []string
	}{
		{
			name:    "typed engine error",
			status:  http.StatusNotFound,
			body:    `{"error":"conformity.missing: NotFound (pg_id=999)","kind":"NotFound"}`,
			wantAll: []string{"404", "NotFound", "pg_id=999"},
		},
		{
			name:    "retryable backend error",
			status:  http.StatusServiceUnavailable,
			body:    `{"error":"store timeout","kind":"BackendUnavailable"}`,
			header:  "5",
			wantAll: []string{"503", "BackendUnavailable", "retry after 5s"},
		},
		{
			name:    "plain text body",
			status:  http.StatusInternalServerError,
			body:    "internal error",
			wantAll: []string{"500", "internal error"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withServer(t, "table", func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			var v any
			err := newClient().getJSON("/conformity/metrics", nil, &v)
			if err == nil {
				t.Fatal("expected error")
			}
			for _, want := range tt.wantAll {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q should contain %q", err.Error(), want)
				}
			}
		})
	}
}

func TestUnsupportedOutputFormat(t *testing.T) {
	withServer(t, "xml", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]conformity.ExtraEntry{})
	})
	if err := runConformityExtras(conformityExtrasCmd, []string{"20"}); err == nil {
		t.Error("expected error for unsupported output format")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"Filtre à air", 8, "Filtr..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
