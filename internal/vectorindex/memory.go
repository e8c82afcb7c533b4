package vectorindex

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// Point is one stored vector with its payload, used by the in-memory index.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// memoryIndex is a small cosine-similarity index keyed by collection. It
// backs mock mode and tests; the predicate semantics mirror the qdrant
// gateway, including the mandatory tenant conjunct.
type memoryIndex struct {
	mu     sync.RWMutex
	points map[string][]Point
}

func NewMemoryIndex() *memoryIndex {
	return &memoryIndex{points: make(map[string][]Point)}
}

// Add stores points in a collection. The payload must carry tenant_id.
func (m *memoryIndex) Add(collection string, points ...Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[collection] = append(m.points[collection], points...)
}

func (m *memoryIndex) Query(_ context.Context, collection string, embedding []float32, tenantID string, pred Predicate, n int) ([]Record, error) {
	if n <= 0 {
		n = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	full := withTenant(pred, tenantID)
	var records []Record
	for _, pt := range m.points[collection] {
		if !matches(full, pt.Payload) {
			continue
		}
		records = append(records, Record{
			ID:      pt.ID,
			Score:   cosine(embedding, pt.Vector),
			Payload: pt.Payload,
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].ID < records[j].ID
	})
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}

func (m *memoryIndex) Scroll(_ context.Context, collection string, tenantID string, pred Predicate, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	full := withTenant(pred, tenantID)
	var records []Record
	for _, pt := range m.points[collection] {
		if !matches(full, pt.Payload) {
			continue
		}
		records = append(records, Record{ID: pt.ID, Payload: pt.Payload})
		if len(records) >= limit {
			break
		}
	}
	return records, nil
}

// matches evaluates the predicate tree against a payload the way the engine
// filter would: Eq compares keywords, In matches any value (with array
// overlap for list payloads), All/Any combine.
func matches(p Predicate, payload map[string]any) bool {
	switch {
	case len(p.All) > 0:
		for _, child := range p.All {
			if !matches(child, payload) {
				return false
			}
		}
		return true
	case len(p.Any) > 0:
		for _, child := range p.Any {
			if matches(child, payload) {
				return true
			}
		}
		return false
	case len(p.In) > 0:
		for _, want := range p.In {
			if payloadHas(payload, p.Field, want) {
				return true
			}
		}
		return false
	case p.Field != "":
		return payloadHas(payload, p.Field, p.Equals)
	}
	return true
}

func payloadHas(payload map[string]any, field, want string) bool {
	switch v := payload[field].(type) {
	case string:
		return strings.EqualFold(v, want)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
