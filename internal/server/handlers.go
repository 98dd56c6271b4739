package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/query"
	"github.com/h12/seekly/internal/search"
	"github.com/h12/seekly/pkg/entity"
)

const defaultQueryStatsLimit = 10

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var doc entity.Document
	if !s.decode(w, r, &doc) {
		return
	}
	if doc.Type == "" {
		doc.Type = s.engine.EntityType()
	}
	if err := s.engine.Index(r.Context(), doc); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": doc.ID, "indexed": 1})
}

type batchRequest struct {
	Documents []entity.Document `json:"documents"`
}

func (s *Server) handleIndexBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 || len(req.Documents) > maxBatchSize {
		s.writeError(w, serrors.ValidationError(
			fmt.Sprintf("documents count must be between 1 and %d", maxBatchSize), nil))
		return
	}
	for i := range req.Documents {
		if req.Documents[i].Type == "" {
			req.Documents[i].Type = s.engine.EntityType()
		}
	}
	if err := s.engine.IndexBatch(r.Context(), req.Documents); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"indexed": len(req.Documents)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch serves GET /v1/search.
//
// Parameters: q, limit, offset, fields (comma separated), min_score, fuzzy,
// fuzzy_distance, wildcard, phrase, suggest, session_id, user_id and filters
// (a JSON object of field to value or {"min": x, "max": y}).
//
// A failed search is still answered with 200; the body carries success
// false and the error message.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	opts, err := s.searchOptions(params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	filters, err := parseFilters(params.Get("filters"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := s.engine.Search(r.Context(), params.Get("q"), filters, opts)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) searchOptions(params url.Values) (query.Options, error) {
	opts := s.cfg.SearchDefaults
	p := paramParser{values: params}

	opts.MaxResults = p.int("limit", opts.MaxResults)
	opts.Offset = p.int("offset", opts.Offset)
	opts.MinScore = p.float("min_score", opts.MinScore)
	opts.Fuzzy = p.bool("fuzzy", opts.Fuzzy)
	opts.FuzzyDistance = p.int("fuzzy_distance", opts.FuzzyDistance)
	opts.Wildcard = p.bool("wildcard", opts.Wildcard)
	opts.PhraseMatching = p.bool("phrase", opts.PhraseMatching)
	opts.IncludeSuggestions = p.bool("suggest", opts.IncludeSuggestions)
	if fields := params.Get("fields"); fields != "" {
		opts.SearchFields = strings.Split(fields, ",")
	}
	opts.SessionID = params.Get("session_id")
	opts.UserID = params.Get("user_id")

	if p.err != nil {
		return query.Options{}, p.err
	}
	return opts, nil
}

func parseFilters(raw string) (query.Filters, error) {
	if raw == "" {
		return nil, nil
	}
	var filters query.Filters
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return nil, serrors.ValidationError("filters must be a JSON object", err)
	}
	return filters, nil
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	p := paramParser{values: params}
	limit := p.int("limit", s.cfg.SearchDefaults.MaxSuggestions)
	if p.err != nil {
		s.writeError(w, p.err)
		return
	}

	out, err := s.engine.GetSuggestions(r.Context(), params.Get("q"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": out})
}

type statsResponse struct {
	EntityType  string                  `json:"entity_type"`
	Performance search.PerformanceStats `json:"performance"`
	Index       search.IndexStats       `json:"index"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.IndexStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		EntityType:  s.engine.EntityType(),
		Performance: s.engine.PerformanceStats(),
		Index:       st,
	})
}

func (s *Server) handleTopQueries(w http.ResponseWriter, r *http.Request) {
	s.queryStats(w, r, s.engine.TopQueries)
}

func (s *Server) handleZeroQueries(w http.ResponseWriter, r *http.Request) {
	s.queryStats(w, r, s.engine.ZeroResultQueries)
}

func (s *Server) queryStats(w http.ResponseWriter, r *http.Request, list func(int) []search.QueryPerformance) {
	p := paramParser{values: r.URL.Query()}
	limit := p.int("limit", defaultQueryStatsLimit)
	if p.err != nil {
		s.writeError(w, p.err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": list(limit)})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.OptimizeIndex(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "optimized"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CheckHealth(r.Context()); err != nil {
		s.logger.Warn("health_check_failed", serrors.LogAttrs(err)[0])
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  serrors.ToPayload(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"entity_type": s.engine.EntityType(),
	})
}

// paramParser reads typed query parameters and keeps the first error.
type paramParser struct {
	values url.Values
	err    error
}

func (p *paramParser) int(name string, def int) int {
	raw := p.values.Get(name)
	if raw == "" || p.err != nil {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(name, err)
		return def
	}
	return v
}

func (p *paramParser) float(name string, def float64) float64 {
	raw := p.values.Get(name)
	if raw == "" || p.err != nil {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(name, err)
		return def
	}
	return v
}

func (p *paramParser) bool(name string, def bool) bool {
	raw := p.values.Get(name)
	if raw == "" || p.err != nil {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(name, err)
		return def
	}
	return v
}

func (p *paramParser) fail(name string, err error) {
	p.err = serrors.ValidationError(fmt.Sprintf("invalid %s parameter", name), err).
		WithDetail("parameter", name)
}
