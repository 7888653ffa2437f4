package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

// Filters are the scope restrictions applied to every query.
type Filters struct {
	Start       time.Time
	End         time.Time
	Service     string
	Environment string
	Terms       []string

	// ServiceField overrides the field matched against Service (default service.name).
	ServiceField string
}

// Query is one ranked request against a collection. Lexical, Vector or both may be set.
type Query struct {
	Lexical string
	Vector  []float32
	Filters Filters
	TopK    int
}

// Document is a ranked hit with the fields the pipeline links on.
type Document struct {
	ID           string
	Index        string
	Score        float64
	Timestamp    time.Time
	Service      string
	Environment  string
	TraceID      string
	SpanID       string
	DeploymentID string
	Message      string
	Source       map[string]any
}

// ElasticOptions configures the Elasticsearch repository.
type ElasticOptions struct {
	Addresses      []string
	Username       string
	Password       string
	APIKey         string
	EmbeddingField string
	MaxRetries     int
	Transport      http.RoundTripper

	// CatalogIndices are scanned by Catalog for services and environments.
	CatalogIndices []string
	IncidentsIndex string
}

// ElasticRepo issues searches, aggregations and incident writes against Elasticsearch.
type ElasticRepo struct {
	client         *elasticsearch.Client
	embeddingField string
	catalogIndices []string
	incidentsIndex string
}

// NewElasticRepo constructs a repository over a go-elasticsearch client.
func NewElasticRepo(opts ElasticOptions) (*ElasticRepo, error) {
	if len(opts.Addresses) == 0 {
		return nil, errors.New("elasticsearch addresses not configured")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  opts.Addresses,
		Username:   opts.Username,
		Password:   opts.Password,
		APIKey:     opts.APIKey,
		MaxRetries: opts.MaxRetries,
		Transport:  opts.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	field := opts.EmbeddingField
	if field == "" {
		field = "embedding"
	}
	return &ElasticRepo{
		client:         client,
		embeddingField: field,
		catalogIndices: opts.CatalogIndices,
		incidentsIndex: opts.IncidentsIndex,
	}, nil
}

// Ping checks that the cluster answers.
func (r *ElasticRepo) Ping(ctx context.Context) error {
	res, err := r.client.Ping(r.client.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

// Query runs q against collection and returns hits in backend rank order.
func (r *ElasticRepo) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("elasticsearch repo not initialised")
	}
	if q.Lexical == "" && len(q.Vector) == 0 {
		return nil, errors.New("query needs a lexical or vector leg")
	}
	body := r.buildSearchBody(q)
	raw, err := r.search(ctx, collection, body)
	if err != nil {
		return nil, err
	}
	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	docs := make([]Document, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		docs = append(docs, documentFromHit(hit))
	}
	return docs, nil
}

func (r *ElasticRepo) buildSearchBody(q Query) map[string]any {
	topK := q.TopK
	if topK <= 0 {
		topK = 20
	}
	filter := buildFilter(q.Filters)
	boolQuery := map[string]any{
		"filter": filter,
	}
	if q.Lexical != "" {
		should := []any{
			map[string]any{"match": map[string]any{"message": map[string]any{"query": q.Lexical, "boost": 1}}},
			map[string]any{"match": map[string]any{"tags": map[string]any{"query": q.Lexical, "boost": 0.5}}},
		}
		for _, term := range q.Filters.Terms {
			should = append(should, map[string]any{"match": map[string]any{"message": map[string]any{"query": term, "boost": 0.25}}})
		}
		boolQuery["should"] = should
		boolQuery["minimum_should_match"] = 1
	}
	body := map[string]any{
		"size":    topK,
		"_source": map[string]any{"excludes": []string{r.embeddingField}},
		"query":   map[string]any{"bool": boolQuery},
	}
	if len(q.Vector) > 0 {
		body["knn"] = map[string]any{
			"field":          r.embeddingField,
			"query_vector":   q.Vector,
			"k":              topK,
			"num_candidates": max(100, topK*4),
			"filter":         filter,
		}
		if q.Lexical == "" {
			delete(body, "query")
		}
	}
	return body
}

func buildFilter(f Filters) []any {
	filter := make([]any, 0, 3)
	if !f.Start.IsZero() || !f.End.IsZero() {
		rng := map[string]any{}
		if !f.Start.IsZero() {
			rng["gte"] = f.Start.UTC().Format(time.RFC3339)
		}
		if !f.End.IsZero() {
			rng["lte"] = f.End.UTC().Format(time.RFC3339)
		}
		filter = append(filter, map[string]any{"range": map[string]any{"@timestamp": rng}})
	}
	if f.Service != "" {
		field := f.ServiceField
		if field == "" {
			field = "service.name"
		}
		filter = append(filter, map[string]any{"term": map[string]any{field: f.Service}})
	}
	if f.Environment != "" {
		filter = append(filter, map[string]any{"term": map[string]any{"env": f.Environment}})
	}
	return filter
}

func (r *ElasticRepo) search(ctx context.Context, index string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(index),
		r.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("search %s failed: %s: %s", index, res.Status(), truncate(string(raw), 256))
	}
	return raw, nil
}

// Catalog lists distinct services and environments across the catalog indices.
// Environments are narrowed to service when it is set. Indices that fail are skipped.
func (r *ElasticRepo) Catalog(ctx context.Context, service string) (models.ScopeCatalog, error) {
	services := map[string]struct{}{}
	envs := map[string]struct{}{}
	var lastErr error
	succeeded := 0

	for _, index := range r.catalogIndices {
		body := map[string]any{
			"size": 0,
			"aggs": map[string]any{
				"services":    map[string]any{"terms": map[string]any{"field": "service.name", "size": 100}},
				"envs":        envAggregation(service, "env"),
				"service_env": envAggregation(service, "service.environment"),
			},
		}
		raw, err := r.search(ctx, index, body)
		if err != nil {
			lastErr = err
			continue
		}
		var resp aggregationResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			lastErr = err
			continue
		}
		succeeded++
		for _, b := range resp.Aggregations.Services.Buckets {
			if key := fmt.Sprint(b.Key); key != "" {
				services[key] = struct{}{}
			}
		}
		for _, agg := range []filteredTerms{resp.Aggregations.Envs, resp.Aggregations.ServiceEnv} {
			for _, b := range agg.buckets() {
				if key := fmt.Sprint(b.Key); key != "" {
					envs[key] = struct{}{}
				}
			}
		}
	}
	if succeeded == 0 && lastErr != nil {
		return models.ScopeCatalog{}, lastErr
	}
	return models.ScopeCatalog{Services: sortedKeys(services), Environments: sortedKeys(envs)}, nil
}

func envAggregation(service, field string) map[string]any {
	terms := map[string]any{"terms": map[string]any{"field": field, "size": 50}}
	if service == "" {
		return terms
	}
	return map[string]any{
		"filter": map[string]any{"term": map[string]any{"service.name": service}},
		"aggs":   map[string]any{"values": terms},
	}
}

// IndexIncident writes a closed investigation into the incidents collection.
func (r *ElasticRepo) IndexIncident(ctx context.Context, incident models.SimilarIncident, summary string, vector []float32, closedAt time.Time) error {
	if r.incidentsIndex == "" {
		return errors.New("incidents index not configured")
	}
	if incident.IncidentID == "" {
		return errors.New("incident id required")
	}
	doc := map[string]any{
		"incident_id":     incident.IncidentID,
		"title":           incident.Title,
		"symptom_summary": summary,
		"root_cause":      incident.PriorRootCause,
		"fix_steps":       incident.PriorFixSteps,
		"postmortem_url":  incident.PostmortemURL,
		"tags":            incident.Tags,
		"service":         incident.Service,
		"@timestamp":      closedAt.UTC().Format(time.RFC3339),
	}
	if len(vector) > 0 {
		doc[r.embeddingField] = vector
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	res, err := r.client.Index(
		r.incidentsIndex,
		bytes.NewReader(payload),
		r.client.Index.WithContext(ctx),
		r.client.Index.WithDocumentID(incident.IncidentID),
		r.client.Index.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("index incident: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index incident failed: %s: %s", res.Status(), truncate(string(raw), 256))
	}
	return nil
}

// IncidentFromDocument maps an incidents-collection hit to a SimilarIncident.
// The similarity score is left to the caller.
func IncidentFromDocument(doc Document) models.SimilarIncident {
	incident := models.SimilarIncident{
		IncidentID:     stringField(doc.Source, "incident_id"),
		Title:          stringField(doc.Source, "title"),
		Service:        stringField(doc.Source, "service"),
		PriorRootCause: stringField(doc.Source, "root_cause"),
		PriorFixSteps:  stringSlice(lookup(doc.Source, "fix_steps")),
		PostmortemURL:  stringField(doc.Source, "postmortem_url"),
		Tags:           stringSlice(lookup(doc.Source, "tags")),
	}
	if incident.IncidentID == "" {
		incident.IncidentID = doc.ID
	}
	if incident.Service == "" {
		incident.Service = doc.Service
	}
	return incident
}

type searchResponse struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

type searchHit struct {
	ID     string         `json:"_id"`
	Index  string         `json:"_index"`
	Score  *float64       `json:"_score"`
	Source map[string]any `json:"_source"`
}

type termsBucket struct {
	Key any `json:"key"`
}

type termsAgg struct {
	Buckets []termsBucket `json:"buckets"`
}

// filteredTerms decodes either a plain terms aggregation or a filter wrapping one.
type filteredTerms struct {
	Buckets []termsBucket `json:"buckets"`
	Values  *termsAgg     `json:"values"`
}

func (f filteredTerms) buckets() []termsBucket {
	if f.Values != nil {
		return f.Values.Buckets
	}
	return f.Buckets
}

type aggregationResponse struct {
	Aggregations struct {
		Services   termsAgg      `json:"services"`
		Envs       filteredTerms `json:"envs"`
		ServiceEnv filteredTerms `json:"service_env"`
	} `json:"aggregations"`
}

func documentFromHit(hit searchHit) Document {
	doc := Document{
		ID:           hit.ID,
		Index:        hit.Index,
		Source:       hit.Source,
		Service:      stringField(hit.Source, "service.name"),
		TraceID:      stringField(hit.Source, "trace.id"),
		SpanID:       stringField(hit.Source, "span.id"),
		DeploymentID: stringField(hit.Source, "deployment.id"),
		Message:      stringField(hit.Source, "message"),
	}
	if hit.Score != nil {
		doc.Score = *hit.Score
	}
	if doc.Service == "" {
		doc.Service = stringField(hit.Source, "service")
	}
	doc.Environment = stringField(hit.Source, "env")
	if doc.Environment == "" {
		doc.Environment = stringField(hit.Source, "service.environment")
	}
	if ts := stringField(hit.Source, "@timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			doc.Timestamp = parsed
		}
	}
	return doc
}

// lookup resolves a dotted path either as a flat key or through nested objects.
func lookup(src map[string]any, path string) any {
	if src == nil {
		return nil
	}
	if v, ok := src[path]; ok {
		return v
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil
	}
	child, ok := src[head].(map[string]any)
	if !ok {
		return nil
	}
	return lookup(child, rest)
}

func stringField(src map[string]any, path string) string {
	switch v := lookup(src, path).(type) {
	case string:
		return v
	case nil, map[string]any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// NumberField returns the numeric value at path, accepting numbers and numeric strings.
func NumberField(src map[string]any, path string) (float64, bool) {
	switch v := lookup(src, path).(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// StringField exposes dotted-path string lookup for other packages.
func StringField(src map[string]any, path string) string {
	return stringField(src, path)
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vals == "" {
			return nil
		}
		return []string{vals}
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
