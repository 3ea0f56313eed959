package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coolbeans/exocortex/pkg/cache"
	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/query"
	"github.com/coolbeans/exocortex/pkg/rdf"
	"github.com/coolbeans/exocortex/pkg/store"
)

const (
	maxBodyBytes      = 1 << 20
	defaultGraphLimit = 100
	defaultAssetLimit = 20
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := exoerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Code: string(exoerr.CodeOf(err))})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return exoerr.Wrap(err, exoerr.CodeServerRequestInvalid, "decode request body")
	}
	return nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Triples int    `json:"triples"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Triples: s.engine.Stats().TotalTriples})
}

type sparqlRequest struct {
	Query  string `json:"query"`
	Format string `json:"format,omitempty"`
}

type sparqlResponse struct {
	Kind   string          `json:"kind"`
	Count  int             `json:"count"`
	Cached bool            `json:"cached"`
	Data   json.RawMessage `json:"data,omitempty"`
	Output string          `json:"output,omitempty"`
}

// handleSPARQL runs a query. JSON formats are embedded in data, every other
// format is returned as text in output.
func (s *Server) handleSPARQL(w http.ResponseWriter, r *http.Request) {
	var req sparqlRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Query == "" {
		s.writeError(w, exoerr.New(exoerr.CodeServerRequestInvalid, "query is required"))
		return
	}
	format := query.OutputFormat(req.Format)
	if format == "" {
		format = query.FormatJSON
	}

	start := time.Now()
	result, err := s.engine.Query(req.Query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.observeQuery(string(result.Kind), result.Cached, time.Since(start))

	output, err := result.Format(format, s.engine.Prefixes())
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := sparqlResponse{Kind: string(result.Kind), Count: result.Len(), Cached: result.Cached}
	if format == query.FormatJSON || format == query.FormatJSONLD {
		resp.Data = json.RawMessage(output)
	} else {
		resp.Output = output
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type jsonTriple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

type graphResponse struct {
	Count     int          `json:"count"`
	Total     int          `json:"total"`
	Truncated bool         `json:"truncated"`
	Triples   []jsonTriple `json:"triples"`
}

// parseOptionalTerm reads a pattern position; empty text is a wildcard.
func (s *Server) parseOptionalTerm(position, text string) (rdf.Term, error) {
	if text == "" {
		return nil, nil
	}
	term, err := rdf.ParseTerm(text, s.engine.Prefixes())
	if err != nil {
		return nil, exoerr.Wrap(err, exoerr.CodeServerRequestInvalid, "invalid term", exoerr.Field("position", position))
	}
	return term, nil
}

// parseLimit reads the limit query parameter.
func parseLimit(params url.Values, fallback int) (int, error) {
	raw := params.Get("limit")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, exoerr.New(exoerr.CodeServerRequestInvalid, "limit must be a positive integer",
			exoerr.Field("limit", raw))
	}
	return n, nil
}

// patternTerms reads the s, p and o query parameters.
func (s *Server) patternTerms(params url.Values) ([3]rdf.Term, error) {
	var terms [3]rdf.Term
	for i, position := range []string{"s", "p", "o"} {
		term, err := s.parseOptionalTerm(position, params.Get(position))
		if err != nil {
			return terms, err
		}
		terms[i] = term
	}
	return terms, nil
}

func (s *Server) handleGraphMatch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	limit, err := parseLimit(params, defaultGraphLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	terms, err := s.patternTerms(params)
	if err != nil {
		s.writeError(w, err)
		return
	}

	matched := s.engine.Match(terms[0], terms[1], terms[2])
	resp := graphResponse{Total: len(matched), Triples: make([]jsonTriple, 0, min(limit, len(matched)))}
	if len(matched) > limit {
		matched = matched[:limit]
		resp.Truncated = true
	}
	for _, triple := range matched {
		resp.Triples = append(resp.Triples, jsonTriple{
			Subject:   triple.Subject.String(),
			Predicate: triple.Predicate.String(),
			Object:    triple.Object.String(),
		})
	}
	resp.Count = len(resp.Triples)
	s.writeJSON(w, http.StatusOK, resp)
}

type assetJSON struct {
	Asset string `json:"asset"`
	Label string `json:"label,omitempty"`
	Class string `json:"class"`
}

type assetSearchResponse struct {
	Count  int         `json:"count"`
	Cached bool        `json:"cached"`
	Assets []assetJSON `json:"assets"`
}

// handleAssetSearch lists typed assets, optionally narrowed to one class
// and to labels containing q without regard to case.
func (s *Server) handleAssetSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	limit, err := parseLimit(params, defaultAssetLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	class, err := s.parseOptionalTerm("class", params.Get("class"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if class != nil && class.Kind() != rdf.KindIRI {
		s.writeError(w, exoerr.New(exoerr.CodeServerRequestInvalid, "class must be an IRI",
			exoerr.Field("class", params.Get("class"))))
		return
	}

	result, err := s.engine.Select(assetSearchQuery(params.Get("q"), class, limit))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := assetSearchResponse{Cached: result.Cached, Assets: make([]assetJSON, 0, len(result.Solutions))}
	for _, solution := range result.Solutions {
		asset := assetJSON{
			Asset: solution.Get("asset").String(),
			Class: solution.Get("class").String(),
		}
		if label := solution.Get("label"); label != nil {
			asset.Label = label.Value()
		}
		resp.Assets = append(resp.Assets, asset)
	}
	resp.Count = len(resp.Assets)
	s.writeJSON(w, http.StatusOK, resp)
}

func assetSearchQuery(keyword string, class rdf.Term, limit int) string {
	var sb strings.Builder
	sb.WriteString("SELECT ?asset ?label ?class WHERE {\n")
	sb.WriteString("  ?asset a ?class .\n")
	sb.WriteString("  OPTIONAL { ?asset " + rdf.IRI(rdf.NamespaceExo+"Asset_label").String() + " ?label }\n")
	if class != nil {
		sb.WriteString("  FILTER(?class = " + class.String() + ")\n")
	}
	if keyword != "" {
		sb.WriteString("  FILTER(CONTAINS(LCASE(STR(?label)), LCASE(" + rdf.NewLiteral(keyword).String() + ")))\n")
	}
	sb.WriteString("} ORDER BY ?label ?asset LIMIT " + strconv.Itoa(limit))
	return sb.String()
}

type graphUpdateRequest struct {
	Operation string `json:"operation"`
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

type graphUpdateResponse struct {
	Success   bool   `json:"success"`
	Operation string `json:"operation"`
	Changed   bool   `json:"changed"`
	Triples   int    `json:"triples"`
}

// handleGraphUpdate adds or removes a single triple. The write goes through
// the engine, which invalidates the query cache.
func (s *Server) handleGraphUpdate(w http.ResponseWriter, r *http.Request) {
	var req graphUpdateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Operation == "" {
		req.Operation = "add"
	}
	if req.Operation != "add" && req.Operation != "remove" {
		s.writeError(w, exoerr.New(exoerr.CodeServerRequestInvalid, "operation must be add or remove",
			exoerr.Field("operation", req.Operation)))
		return
	}

	var terms [3]rdf.Term
	for i, field := range []struct{ position, text string }{
		{"subject", req.Subject}, {"predicate", req.Predicate}, {"object", req.Object},
	} {
		if field.text == "" {
			s.writeError(w, exoerr.New(exoerr.CodeServerRequestInvalid, field.position+" is required"))
			return
		}
		term, err := s.parseOptionalTerm(field.position, field.text)
		if err != nil {
			s.writeError(w, err)
			return
		}
		terms[i] = term
	}
	triple := rdf.NewTriple(terms[0], terms[1], terms[2])

	var changed bool
	err := s.engine.Update(func(ts *store.TripleStore) error {
		if req.Operation == "remove" {
			changed = ts.Remove(triple)
			return nil
		}
		before := ts.Size()
		if err := ts.Add(triple); err != nil {
			return err
		}
		changed = ts.Size() > before
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Info("graph updated", "operation", req.Operation, "triple", triple.String(), "changed", changed)
	s.writeJSON(w, http.StatusOK, graphUpdateResponse{
		Success:   true,
		Operation: req.Operation,
		Changed:   changed,
		Triples:   s.engine.Stats().TotalTriples,
	})
}

type graphDeleteResponse struct {
	Success bool `json:"success"`
	Removed int  `json:"removed"`
	Triples int  `json:"triples"`
}

// handleGraphDelete removes every triple matching the s, p and o
// parameters. At least one position must be given.
func (s *Server) handleGraphDelete(w http.ResponseWriter, r *http.Request) {
	terms, err := s.patternTerms(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if terms[0] == nil && terms[1] == nil && terms[2] == nil {
		s.writeError(w, exoerr.New(exoerr.CodeServerRequestInvalid, "at least one of s, p or o is required"))
		return
	}

	var removed int
	err = s.engine.Update(func(ts *store.TripleStore) error {
		removed = ts.RemoveMatching(terms[0], terms[1], terms[2])
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Info("graph triples removed", "removed", removed)
	s.writeJSON(w, http.StatusOK, graphDeleteResponse{
		Success: true,
		Removed: removed,
		Triples: s.engine.Stats().TotalTriples,
	})
}

// handleGraphExport writes the whole graph as turtle (the default),
// ntriples or jsonld. The export reads a snapshot, so writers are not
// blocked while it is serialized.
func (s *Server) handleGraphExport(w http.ResponseWriter, r *http.Request) {
	snapshot := s.engine.Snapshot()
	prefixes := s.engine.Prefixes()

	var (
		body        string
		contentType string
		err         error
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "turtle":
		contentType = "text/turtle"
		body = store.NewTurtleSerializer(store.WithPrefixes(prefixes)).SerializeStore(snapshot)
	case "ntriples":
		contentType = "application/n-triples"
		var sb strings.Builder
		err = store.WriteNTriples(&sb, snapshot.All())
		body = sb.String()
	case "jsonld":
		contentType = "application/ld+json"
		opts := []store.JSONLDOption{}
		for prefix, namespace := range prefixes {
			opts = append(opts, store.WithJSONLDPrefix(prefix, namespace))
		}
		if r.URL.Query().Get("expanded") == "true" {
			opts = append(opts, store.WithExpandedForm())
		}
		body, err = store.NewJSONLDSerializer(opts...).SerializeToString(snapshot.All())
	default:
		err = exoerr.New(exoerr.CodeQueryFormatUnsupported, "unsupported export format", exoerr.Field("format", format))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, body); err != nil {
		s.logger.Warn("writing export", "error", err)
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.CacheStats())
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, _ *http.Request) {
	s.engine.InvalidateCache()
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type cacheConfigBody struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	TTL        string `json:"ttl,omitempty"`
	MaxEntries *int   `json:"max_entries,omitempty"`
}

type cacheConfigResponse struct {
	Enabled    bool   `json:"enabled"`
	TTL        string `json:"ttl"`
	MaxEntries int    `json:"max_entries"`
}

// handleCacheConfig updates the fields present in the body and keeps the
// rest.
func (s *Server) handleCacheConfig(w http.ResponseWriter, r *http.Request) {
	var body cacheConfigBody
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	config := s.engine.CacheConfig()
	if body.Enabled != nil {
		config.Enabled = *body.Enabled
	}
	if body.TTL != "" {
		ttl, err := time.ParseDuration(body.TTL)
		if err != nil || ttl <= 0 {
			s.writeError(w, exoerr.New(exoerr.CodeServerRequestInvalid, "ttl must be a positive duration",
				exoerr.Field("ttl", body.TTL)))
			return
		}
		config.TTL = ttl
	}
	if body.MaxEntries != nil {
		if *body.MaxEntries <= 0 {
			s.writeError(w, exoerr.New(exoerr.CodeServerRequestInvalid, "max_entries must be positive"))
			return
		}
		config.MaxEntries = *body.MaxEntries
	}

	s.engine.UpdateCacheConfig(config)
	s.writeJSON(w, http.StatusOK, toCacheConfigResponse(s.engine.CacheConfig()))
}

func toCacheConfigResponse(config cache.Config) cacheConfigResponse {
	return cacheConfigResponse{Enabled: config.Enabled, TTL: config.TTL.String(), MaxEntries: config.MaxEntries}
}
