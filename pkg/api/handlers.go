package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/autoparts/compat-engine/pkg/compat"
	"github.com/autoparts/compat-engine/pkg/conformity"
	"github.com/autoparts/compat-engine/pkg/criteria"
)

// MetricsResponse is the body of GET /conformity/metrics.
type MetricsResponse struct {
	Metrics []conformity.Record `json:"metrics"`
	KPIs    conformity.Summary  `json:"kpis"`
}

// PiecesResponse is the body of GET /catalog/pieces/{variantId}/{gammeId}.
type PiecesResponse struct {
	Pieces []compat.ResolvedPart `json:"pieces"`
	Count  int                   `json:"count"`
	Page   int                   `json:"page"`
	Limit  int                   `json:"limit"`
}

// conformityMetricsHandler audits one gamme (?pg_id=N) or all of them.
func (s *Server) conformityMetricsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var gammeID int64
	if raw := q.Get("pg_id"); raw != "" {
		id, err := parseID("pg_id", raw)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		gammeID = id
	}

	partitioned := false
	if raw := q.Get("partitioned"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, fmt.Sprintf("partitioned must be a boolean, got %q", raw))
			return
		}
		partitioned = b
	}
	if partitioned && gammeID != 0 {
		badRequest(w, "partitioned applies to all-gammes audits only")
		return
	}

	var (
		records []conformity.Record
		err     error
	)
	if partitioned {
		records, err = s.conformity.ComputeConformityPartitioned(r.Context())
	} else {
		records, err = s.conformity.ComputeConformity(r.Context(), gammeID)
	}
	if err != nil {
		writeEngineError(w, s.logger, err)
		return
	}
	if records == nil {
		records = []conformity.Record{}
	}

	writeJSON(w, http.StatusOK, MetricsResponse{
		Metrics: records,
		KPIs:    conformity.Summarize(records),
	})
}

// missingHandler lists the variants expected on the new mechanism but
// absent from it.
func (s *Server) missingHandler(w http.ResponseWriter, r *http.Request) {
	gammeID, err := parseID("pgId", chi.URLParam(r, "pgId"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	entries, err := s.conformity.GetMissing(r.Context(), gammeID)
	if err != nil {
		writeEngineError(w, s.logger, err)
		return
	}
	if entries == nil {
		entries = []conformity.MissingEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// extrasHandler lists the variants the new mechanism covers without being
// expected to.
func (s *Server) extrasHandler(w http.ResponseWriter, r *http.Request) {
	gammeID, err := parseID("pgId", chi.URLParam(r, "pgId"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	entries, err := s.conformity.GetExtras(r.Context(), gammeID)
	if err != nil {
		writeEngineError(w, s.logger, err)
		return
	}
	if entries == nil {
		entries = []conformity.ExtraEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// piecesHandler resolves the parts compatible with a variant in a gamme.
func (s *Server) piecesHandler(w http.ResponseWriter, r *http.Request) {
	variantID, err := parseID("variantId", chi.URLParam(r, "variantId"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	gammeID, err := parseID("gammeId", chi.URLParam(r, "gammeId"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	q := r.URL.Query()
	page, err := parseBounded("page", q.Get("page"), 1, 1, 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	limit, err := parseBounded("limit", q.Get("limit"), compat.DefaultLimit, 1, compat.MaxLimit)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	req := compat.Request{
		VariantID:  variantID,
		GammeID:    gammeID,
		Pagination: compat.PageToPagination(page, limit),
		Sort:       q.Get("sort"),
	}
	if raw := q.Get("position"); raw != "" {
		pos, ok := criteria.ParsePosition(raw)
		if !ok || pos == criteria.PositionUnknown {
			badRequest(w, fmt.Sprintf("unknown position %q", raw))
			return
		}
		req.Position = pos
	}

	res, err := s.resolver.Resolve(r.Context(), req)
	if err != nil {
		writeEngineError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, PiecesResponse{
		Pieces: res.Parts,
		Count:  res.Total,
		Page:   page,
		Limit:  res.Limit,
	})
}

// parseID parses a strictly positive identifier.
func parseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}

// parseBounded parses an optional integer query parameter. hi of zero
// means unbounded.
func parseBounded(name, raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || (hi > 0 && n > hi) {
		if hi > 0 {
			return 0, fmt.Errorf("%s must be an integer in [%d, %d], got %q", name, lo, hi, raw)
		}
		return 0, fmt.Errorf("%s must be an integer >= %d, got %q", name, lo, raw)
	}
	return n, nil
}
