package testutil

import (
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// RecordedRequest is what FakeBroker saw for one call.
type RecordedRequest struct {
	Method      string
	Path        string
	Query       string
	ContentType string
	Accept      string
}

// FakeBroker is an in-memory NGSI-LD broker behind httptest.Server.
// It implements just enough of the entities API for handler and saga tests.
type FakeBroker struct {
	Server *httptest.Server

	mu       sync.Mutex
	entities map[string]map[string]any
	order    []string
	requests []RecordedRequest

	version     map[string]any
	createFails map[string]int // entity type -> status
	getStatus   int
	patchStatus int
	queryStatus int
}

// NewFakeBroker starts a fake broker that is closed with the test.
func NewFakeBroker(t *testing.T) *FakeBroker {
	t.Helper()

	b := &FakeBroker{
		entities:    make(map[string]map[string]any),
		createFails: make(map[string]int),
		version:     map[string]any{"orionld version": "fake-1.0"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /version", b.handleVersion)
	mux.HandleFunc("GET /ngsi-ld/v1/entities", b.handleQuery)
	mux.HandleFunc("POST /ngsi-ld/v1/entities", b.handleCreate)
	mux.HandleFunc("GET /ngsi-ld/v1/entities/{id}", b.handleGet)
	mux.HandleFunc("PATCH /ngsi-ld/v1/entities/{id}/attrs", b.handlePatch)

	b.Server = httptest.NewServer(b.record(mux))
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the broker base URL.
func (b *FakeBroker) URL() string { return b.Server.URL }

// Seed stores an entity as if it had been created earlier.
func (b *FakeBroker) Seed(entity map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, _ := entity["id"].(string)
	if _, exists := b.entities[id]; !exists {
		b.order = append(b.order, id)
	}
	b.entities[id] = maps.Clone(entity)
}

// Entity returns a copy of a stored entity.
func (b *FakeBroker) Entity(id string) (map[string]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entities[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(e), true
}

// EntitiesOfType returns stored entities of one type in creation order.
func (b *FakeBroker) EntitiesOfType(entityType string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, id := range b.order {
		e := b.entities[id]
		if e["type"] == entityType {
			out = append(out, maps.Clone(e))
		}
	}
	return out
}

// Requests returns every request received so far.
func (b *FakeBroker) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RecordedRequest(nil), b.requests...)
}

// FailCreates makes POSTs of entityType answer status.
func (b *FakeBroker) FailCreates(entityType string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createFails[entityType] = status
}

// FailGets makes every entity read answer status.
func (b *FakeBroker) FailGets(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getStatus = status
}

// FailPatches makes every attribute patch answer status.
func (b *FakeBroker) FailPatches(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patchStatus = status
}

// FailQueries makes every entity query answer status.
func (b *FakeBroker) FailQueries(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queryStatus = status
}

func (b *FakeBroker) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, RecordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.RawQuery,
			ContentType: r.Header.Get("Content-Type"),
			Accept:      r.Header.Get("Accept"),
		})
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (b *FakeBroker) handleVersion(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	v := maps.Clone(b.version)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, v)
}

func (b *FakeBroker) handleQuery(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	status := b.queryStatus
	b.mu.Unlock()
	if status != 0 {
		writeProblem(w, status, "query failed")
		return
	}

	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(q.Get("offset"))

	all := b.EntitiesOfType(q.Get("type"))
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		all = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (b *FakeBroker) handleCreate(w http.ResponseWriter, r *http.Request) {
	var entity map[string]any
	if err := json.NewDecoder(r.Body).Decode(&entity); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, _ := entity["id"].(string)
	entityType, _ := entity["type"].(string)

	b.mu.Lock()
	status := b.createFails[entityType]
	_, exists := b.entities[id]
	b.mu.Unlock()

	switch {
	case status != 0:
		writeProblem(w, status, "create failed")
		return
	case id == "" || entityType == "":
		writeProblem(w, http.StatusBadRequest, "id and type are required")
		return
	case exists:
		writeProblem(w, http.StatusConflict, "Already exists")
		return
	}

	b.Seed(entity)
	w.Header().Set("Location", "/ngsi-ld/v1/entities/"+id)
	w.WriteHeader(http.StatusCreated)
}

func (b *FakeBroker) handleGet(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	status := b.getStatus
	b.mu.Unlock()
	if status != 0 {
		writeProblem(w, status, "read failed")
		return
	}

	e, ok := b.Entity(r.PathValue("id"))
	if !ok {
		writeProblem(w, http.StatusNotFound, "Entity Not Found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (b *FakeBroker) handlePatch(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	status := b.patchStatus
	b.mu.Unlock()
	if status != 0 {
		writeProblem(w, status, "patch failed")
		return
	}

	var attrs map[string]any
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	id := r.PathValue("id")
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entities[id]
	if !ok {
		writeProblem(w, http.StatusNotFound, "Entity Not Found")
		return
	}
	maps.Copy(e, attrs)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/ld+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"type":"https://uri.etsi.org/ngsi-ld/errors/","title":"`+title+`"}`)
}
