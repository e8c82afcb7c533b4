package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"orion/internal/observability"
)

// Record is one point returned from the index: the similarity score (zero for
// metadata scans) plus the flattened payload.
type Record struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Index is the read surface of the vector store the retriever depends on.
type Index interface {
	// Query runs ANN search over a collection. The tenant conjunct is always
	// enforced; pred narrows further.
	Query(ctx context.Context, collection string, embedding []float32, tenantID string, pred Predicate, n int) ([]Record, error)
	// Scroll reads up to limit records by metadata only, no ranking.
	Scroll(ctx context.Context, collection string, tenantID string, pred Predicate, limit int) ([]Record, error)
}

type qdrantIndex struct {
	client *qdrant.Client
}

// NewQdrantIndex connects to a qdrant endpoint. The Go client speaks the gRPC
// API (port 6334 by default); an API key may be passed as a query parameter.
func NewQdrantIndex(dsn string) (Index, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant DSN: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant DSN: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &qdrantIndex{client: client}, nil
}

func (q *qdrantIndex) Query(ctx context.Context, collection string, embedding []float32, tenantID string, pred Predicate, n int) ([]Record, error) {
	if n <= 0 {
		n = 10
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	limit := uint64(n)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         toFilter(withTenant(pred, tenantID)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query %s: %w", collection, err)
	}
	out := make([]Record, 0, len(points))
	for _, pt := range points {
		out = append(out, Record{
			ID:      pointID(pt.Id),
			Score:   pt.Score,
			Payload: flattenPayload(pt.Payload),
		})
	}
	observability.LoggerWithTrace(ctx).Debug().
		Str("collection", collection).
		Int("hits", len(out)).
		Msg("vector_query")
	return out, nil
}

func (q *qdrantIndex) Scroll(ctx context.Context, collection string, tenantID string, pred Predicate, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	lim := uint32(limit)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         toFilter(withTenant(pred, tenantID)),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll %s: %w", collection, err)
	}
	out := make([]Record, 0, len(points))
	for _, pt := range points {
		out = append(out, Record{
			ID:      pointID(pt.Id),
			Payload: flattenPayload(pt.Payload),
		})
	}
	return out, nil
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if s := id.GetUuid(); s != "" {
		return s
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func flattenPayload(payload map[string]*qdrant.Value) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = flattenValue(v)
	}
	return out
}

func flattenValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]any, 0, len(items))
		for _, item := range items {
			list = append(list, flattenValue(item))
		}
		return list
	default:
		return nil
	}
}
