// Package semantic owns every Qdrant operation: collection lifecycle,
// point upserts and nearest-neighbour search.
package semantic

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultGRPCPort = 6334
	restPort        = 6333
)

// QdrantAPI is the subset of *qdrant.Client used by VectorStore.
type QdrantAPI interface {
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

// Config holds Qdrant connection settings.
type Config struct {
	// URL is the Qdrant address, e.g. "https://xyz.cloud.qdrant.io:6334".
	URL        string
	APIKey     string
	Collection string
}

// VectorStore is the sole owner of all Qdrant operations. It is safe for
// concurrent use.
type VectorStore struct {
	client     QdrantAPI
	collection string
}

// New creates a VectorStore connected to Qdrant over gRPC.
func New(cfg Config) (*VectorStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("semantic: collection name is required")
	}
	host, port, useTLS, err := parseAddr(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s:%d: %w", host, port, err)
	}
	return NewWithClient(client, cfg.Collection), nil
}

// NewWithClient creates a VectorStore from an existing client.
func NewWithClient(client QdrantAPI, collection string) *VectorStore {
	return &VectorStore{client: client, collection: collection}
}

// parseAddr splits a Qdrant URL into gRPC host, port and TLS flag. The REST
// port is mapped onto the gRPC port so one URL serves both clients.
func parseAddr(raw string) (string, int, bool, error) {
	if raw == "" {
		return "", 0, false, fmt.Errorf("semantic: qdrant url is required")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("semantic: parse qdrant url: %w", err)
	}
	if u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("semantic: qdrant url %q has no host", raw)
	}
	port := defaultGRPCPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("semantic: invalid qdrant port: %w", err)
		}
		if port == restPort {
			port = defaultGRPCPort
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

// Collection returns the collection name this store operates on.
func (v *VectorStore) Collection() string { return v.collection }

// Close closes the underlying connection.
func (v *VectorStore) Close() error {
	if v.client == nil {
		return nil
	}
	return v.client.Close()
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist. Only a NotFound answer triggers creation; any other failure of
// the existence check is returned. created reports whether it was created.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) (created bool, err error) {
	_, err = v.client.GetCollectionInfo(ctx, v.collection)
	if err == nil {
		return false, nil
	}
	if status.Code(err) != codes.NotFound {
		return false, fmt.Errorf("semantic: get collection %s: %w", v.collection, err)
	}

	err = v.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return false, fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return true, nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	if err := v.client.DeleteCollection(ctx, v.collection); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores points in one batch. Points with an existing ID are overwritten.
func (v *VectorStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for k, val := range p.Payload {
			payload[k] = toValue(val)
		}
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	wait := true
	_, err := v.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(points), err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (v *VectorStore) Count(ctx context.Context) (uint64, error) {
	exact := true
	n, err := v.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: v.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count %s: %w", v.collection, err)
	}
	return n, nil
}

// Search returns up to topK nearest points by cosine similarity, with
// payload, excluding every candidate scoring below minScore.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int, minScore float32) ([]SearchResult, error) {
	limit := uint64(topK)
	points, err := v.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: v.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		ScoreThreshold: &minScore,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		sr := SearchResult{
			ID:      p.GetId().GetNum(),
			Score:   p.GetScore(),
			Payload: make(map[string]any, len(p.GetPayload())),
		}
		for k, val := range p.GetPayload() {
			sr.Payload[k] = fromValue(val)
		}
		results = append(results, sr)
	}
	return results, nil
}

func toValue(val any) *qdrant.Value {
	switch tv := val.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: tv}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: tv}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	default:
		return nil
	}
}

var _ QdrantAPI = (*qdrant.Client)(nil)
