package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// store holds documents per index in insertion order.
type store struct {
	mu   sync.RWMutex
	docs map[string][]document
}

type document struct {
	ID     string         `json:"_id"`
	Index  string         `json:"_index"`
	Score  float64        `json:"_score"`
	Source map[string]any `json:"_source"`
}

func (s *store) add(index, id string, source map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.docs[index] {
		if d.ID == id {
			s.docs[index][i].Source = source
			return
		}
	}
	s.docs[index] = append(s.docs[index], document{ID: id, Index: index, Source: source})
}

func (s *store) search(index string, size int) []document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.docs[index]
	if size <= 0 || size > len(docs) {
		size = len(docs)
	}
	out := make([]document, 0, size)
	for i := 0; i < size; i++ {
		d := docs[i]
		d.Score = 1 / float64(i+1)
		out = append(out, d)
	}
	return out
}

func (s *store) terms(index, field string) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]int{}
	var order []string
	for _, d := range s.docs[index] {
		v, ok := d.Source[field].(string)
		if !ok || v == "" {
			continue
		}
		if _, dup := seen[v]; !dup {
			order = append(order, v)
		}
		seen[v]++
	}
	buckets := make([]map[string]any, 0, len(order))
	for _, key := range order {
		buckets = append(buckets, map[string]any{"key": key, "doc_count": seen[key]})
	}
	return buckets
}

func main() {
	db := &store{docs: map[string][]document{}}
	seed(db, time.Now().UTC())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name":         "mock-search",
			"cluster_name": "localdev",
			"version":      map[string]any{"number": "8.19.0"},
			"tagline":      "You Know, for Search",
		})
	})

	mux.HandleFunc("POST /{index}/_search", func(w http.ResponseWriter, r *http.Request) {
		index := r.PathValue("index")
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if _, ok := body["aggs"]; ok {
			writeJSON(w, http.StatusOK, map[string]any{
				"hits":         map[string]any{"hits": []any{}},
				"aggregations": map[string]any{
					"services":    map[string]any{"buckets": db.terms(index, "service.name")},
					"envs":        map[string]any{"buckets": db.terms(index, "env")},
					"service_env": map[string]any{"buckets": []any{}},
				},
			})
			return
		}
		size := intValue(body["size"])
		if knn, ok := body["knn"].(map[string]any); ok && size == 0 {
			size = intValue(knn["k"])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"hits": map[string]any{"hits": db.search(index, size)},
		})
	})

	mux.HandleFunc("PUT /{index}/_doc/{id}", func(w http.ResponseWriter, r *http.Request) {
		var source map[string]any
		if err := json.NewDecoder(r.Body).Decode(&source); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		db.add(r.PathValue("index"), r.PathValue("id"), source)
		writeJSON(w, http.StatusCreated, map[string]any{"_id": r.PathValue("id"), "result": "created"})
	})

	logger := log.New(log.Writer(), "search-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9200",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9200")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// seed loads a checkout incident: payments errors, slow spans and pool
// saturation sharing one trace, plus one closed historical incident.
func seed(db *store, now time.Time) {
	at := func(ago time.Duration) string { return now.Add(-ago).Format(time.RFC3339Nano) }

	messages := []string{
		"checkout failed to reach payments: connection pool exhausted",
		"retry exhausted calling payments",
		"database connection timeout after 5000ms",
	}
	for i, msg := range messages {
		db.add("obs-logs-current", fmt.Sprintf("log-%d", i), map[string]any{
			"@timestamp":   at(time.Duration(3-i) * time.Minute),
			"message":      msg,
			"service.name": "checkout",
			"env":          "prod",
			"log.level":    "error",
			"trace.id":     "trace-abc",
		})
	}

	spans := []struct {
		service  string
		name     string
		duration float64
		outcome  string
	}{
		{"checkout", "HTTP POST /payments", 950000, "failure"},
		{"payments", "DB update", 740000, "success"},
	}
	for i, s := range spans {
		db.add("obs-traces-current", fmt.Sprintf("span-%d", i), map[string]any{
			"@timestamp":              at(90 * time.Second),
			"message":                 s.name,
			"service.name":            s.service,
			"env":                     "prod",
			"trace.id":                "trace-abc",
			"span.id":                 fmt.Sprintf("span-%d", i),
			"transaction.duration.us": s.duration,
			"event.outcome":           s.outcome,
		})
	}

	for i, v := range []float64{12, 14, 13, 96} {
		db.add("obs-metrics-current", fmt.Sprintf("metric-%d", i), map[string]any{
			"@timestamp":   at(time.Duration(4-i) * time.Minute),
			"message":      "db connection pool utilisation",
			"service.name": "checkout",
			"env":          "prod",
			"metric.name":  "db.pool.utilisation",
			"metric.value": v,
		})
	}

	db.add("obs-incidents-current", "INC-1042", map[string]any{
		"incident_id":     "INC-1042",
		"title":           "Checkout errors during payments outage",
		"symptom_summary": "checkout 5xx with payments timeouts",
		"root_cause":      "database connection pool exhausted",
		"fix_steps":       []any{"increase pool size", "restart payments pods"},
		"service":         "checkout",
		"@timestamp":      at(30 * 24 * time.Hour),
	})
}

func intValue(v any) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
