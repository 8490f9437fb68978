// Package semantic is the sole owner of all Qdrant operations: collection
// lifecycle, validated batch upsert, filtered dense search, and fused
// dense+sparse retrieval.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/CourseForgeAI/courseforge-mvp/engine/domain"
)

// Vector names inside a collection. Dense and sparse branches are addressed
// by name so a single point carries both.
const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// SearchCacheTTL bounds how long identical searches are served from memory.
const SearchCacheTTL = 5 * time.Minute

// Index is the policy and validation layer over the raw Qdrant clients.
type Index struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	root        pb.QdrantClient
	cache       *searchCache
	log         *slog.Logger
}

// New creates an Index connected to Qdrant at the given gRPC address.
func New(addr string, log *slog.Logger) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	idx := NewFromClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), pb.NewQdrantClient(conn), log)
	idx.conn = conn
	return idx, nil
}

// NewFromClients builds an Index over existing clients.
func NewFromClients(points pb.PointsClient, collections pb.CollectionsClient, root pb.QdrantClient, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{
		points:      points,
		collections: collections,
		root:        root,
		cache:       newSearchCache(SearchCacheTTL),
		log:         log,
	}
}

// Close closes the underlying gRPC connection.
func (x *Index) Close() error {
	if x.conn == nil {
		return nil
	}
	return x.conn.Close()
}

// ClearCache drops all memoized search results.
func (x *Index) ClearCache() { x.cache.clear() }

// payloadIndexes are created on every new collection to support filtered
// search on the recognized keys.
var payloadIndexes = []struct {
	field string
	typ   pb.FieldType
}{
	{PayloadCourseID, pb.FieldType_FieldTypeKeyword},
	{PayloadResourceID, pb.FieldType_FieldTypeKeyword},
	{PayloadQuality, pb.FieldType_FieldTypeFloat},
	{PayloadLanguage, pb.FieldType_FieldTypeKeyword},
	{PayloadCreatedAt, pb.FieldType_FieldTypeInteger},
	{PayloadContentType, pb.FieldType_FieldTypeKeyword},
}

// EnsureCollection creates the collection and its payload indexes if absent.
// Idempotent: an existing collection is reported with existed=true and its
// config is never mutated.
func (x *Index) EnsureCollection(ctx context.Context, name string, cfg CollectionConfig) (existed bool, err error) {
	list, err := x.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, domain.E(domain.KindExternalService, "semantic.ensure", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return true, nil
		}
	}

	create := &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_ParamsMap{
				ParamsMap: &pb.VectorParamsMap{
					Map: map[string]*pb.VectorParams{
						denseVectorName: {
							Size:     cfg.VectorSize,
							Distance: pb.Distance_Cosine,
						},
					},
				},
			},
		},
	}
	if cfg.SparseEnabled {
		create.SparseVectorsConfig = &pb.SparseVectorConfig{
			Map: map[string]*pb.SparseVectorParams{
				sparseVectorName: {},
			},
		}
	}
	if _, err := x.collections.Create(ctx, create); err != nil {
		return false, domain.E(domain.KindExternalService, "semantic.ensure", fmt.Errorf("create collection %s: %w", name, err))
	}

	for _, idx := range payloadIndexes {
		ft := idx.typ
		_, err := x.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      idx.field,
			FieldType:      &ft,
		})
		if err != nil {
			return false, domain.E(domain.KindExternalService, "semantic.ensure", fmt.Errorf("index payload field %s: %w", idx.field, err))
		}
	}
	x.log.Info("semantic: collection created", "collection", name, "dims", cfg.VectorSize, "sparse", cfg.SparseEnabled)
	return false, nil
}

// DeleteCollection removes a collection and everything in it.
func (x *Index) DeleteCollection(ctx context.Context, name string) error {
	if _, err := x.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
		return domain.E(domain.KindExternalService, "semantic.drop", fmt.Errorf("delete collection %s: %w", name, err))
	}
	return nil
}

// validateEntries rejects a batch before any network call. The whole batch
// is refused on the first offending entry so nothing partial is written.
func validateEntries(entries []Entry) error {
	if len(entries) == 0 {
		return domain.Ef(domain.KindInvalidVector, "semantic.insert", "no entries provided")
	}
	expected := len(entries[0].Vector)
	for i, e := range entries {
		if len(e.Vector) == 0 {
			return domain.Ef(domain.KindInvalidVector, "semantic.insert", "entry %d (%s): missing vector", i, e.ID)
		}
		if len(e.Vector) != expected {
			return domain.Ef(domain.KindDimensionMismatch, "semantic.insert",
				"entry %d (%s): expected dimension %d, found %d", i, e.ID, expected, len(e.Vector))
		}
		for j, v := range e.Vector {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return domain.Ef(domain.KindInvalidVector, "semantic.insert",
					"entry %d (%s): non-finite value at component %d", i, e.ID, j)
			}
		}
	}
	return nil
}

// Insert validates and upserts entries in sub-batches of at most
// opts.BatchSize. Sub-batches are written sequentially; a failure does not
// roll back ones already written (upsert by id keeps retries idempotent).
// Returns the number of entries successfully upserted.
func (x *Index) Insert(ctx context.Context, collection string, entries []Entry, opts InsertOptions) (int, error) {
	if err := validateEntries(entries); err != nil {
		return 0, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultInsertOptions().BatchSize
	}

	inserted := 0
	for start := 0; start < len(entries); start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		end := start + opts.BatchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		points := make([]*pb.PointStruct, len(batch))
		for i, e := range batch {
			points[i] = toPoint(e)
		}
		_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: collection,
			Wait:           &opts.Wait,
			Points:         points,
		})
		if err != nil {
			return inserted, domain.E(domain.KindExternalService, "semantic.insert",
				fmt.Errorf("upsert batch %d-%d: %w", start, end, err))
		}
		inserted += len(batch)
	}
	return inserted, nil
}

func toPoint(e Entry) *pb.PointStruct {
	vectors := map[string]*pb.Vector{
		denseVectorName: {Data: e.Vector},
	}
	if e.Sparse != nil && len(e.Sparse.Indices) > 0 {
		vectors[sparseVectorName] = &pb.Vector{
			Data:    e.Sparse.Values,
			Indices: &pb.SparseIndices{Data: e.Sparse.Indices},
		}
	}

	payload := make(map[string]*pb.Value, len(e.Payload))
	for k, val := range e.Payload {
		switch tv := val.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}

	return &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: e.ID},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vectors{
				Vectors: &pb.NamedVectors{Vectors: vectors},
			},
		},
		Payload: payload,
	}
}

// Search performs dense k-NN similarity search with optional filters.
// Identical searches within SearchCacheTTL are served from memory.
func (x *Index) Search(ctx context.Context, collection string, vector []float32, filters Filters, topK int) ([]Hit, error) {
	key := searchKey(collection, vector, filters, topK)
	if hits, ok := x.cache.get(key); ok {
		return hits, nil
	}

	using := denseVectorName
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		VectorName:     &using,
		Limit:          uint64(topK),
		Filter:         buildFilter(filters),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	resp, err := x.points.Search(ctx, req)
	if err != nil {
		return nil, domain.E(domain.KindExternalService, "semantic.search", err)
	}

	hits := scoredToHits(resp.GetResult())
	x.cache.put(key, hits)
	return hits, nil
}

// HybridSearch issues a single fused query. With both vectors present, a
// dense and a sparse prefetch branch are merged by reciprocal rank fusion.
// With only one vector the query runs that branch alone; the returned
// SearchType tells the caller which signal actually produced the ranking.
func (x *Index) HybridSearch(ctx context.Context, collection string, dense []float32, sparse *domain.SparseVector, filters Filters, topK int) ([]Hit, domain.SearchType, error) {
	hasDense := len(dense) > 0
	hasSparse := sparse != nil && len(sparse.Indices) > 0
	if !hasDense && !hasSparse {
		return nil, "", domain.E(domain.KindNoVectors, "semantic.hybrid", domain.ErrNoVectorsProvided)
	}

	limit := uint64(topK)
	filter := buildFilter(filters)

	denseQuery := func() *pb.Query {
		return &pb.Query{Variant: &pb.Query_Nearest{Nearest: &pb.VectorInput{
			Variant: &pb.VectorInput_Dense{Dense: &pb.DenseVector{Data: dense}},
		}}}
	}
	sparseQuery := func() *pb.Query {
		return &pb.Query{Variant: &pb.Query_Nearest{Nearest: &pb.VectorInput{
			Variant: &pb.VectorInput_Sparse{Sparse: &pb.SparseVector{
				Values:  sparse.Values,
				Indices: sparse.Indices,
			}},
		}}}
	}

	req := &pb.QueryPoints{
		CollectionName: collection,
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}

	searchType := domain.SearchHybrid
	switch {
	case hasDense && hasSparse:
		prefetchLimit := limit * 2
		dn, sp := denseVectorName, sparseVectorName
		req.Prefetch = []*pb.PrefetchQuery{
			{Query: denseQuery(), Using: &dn, Limit: &prefetchLimit, Filter: filter},
			{Query: sparseQuery(), Using: &sp, Limit: &prefetchLimit, Filter: filter},
		}
		req.Query = &pb.Query{Variant: &pb.Query_Fusion{Fusion: pb.Fusion_RRF}}
	case hasDense:
		dn := denseVectorName
		req.Query = denseQuery()
		req.Using = &dn
		searchType = domain.SearchSemantic
	default:
		sp := sparseVectorName
		req.Query = sparseQuery()
		req.Using = &sp
		searchType = domain.SearchKeyword
	}

	resp, err := x.points.Query(ctx, req)
	if err != nil {
		return nil, "", domain.E(domain.KindExternalService, "semantic.hybrid", err)
	}
	return scoredToHits(resp.GetResult()), searchType, nil
}

// DeleteByFilter removes all points matching the filters. An empty filter is
// refused: dropping a whole collection must be explicit, never implicit.
// The deleted count is the difference of pre- and post-delete point counts,
// best effort since the store does not report it directly.
func (x *Index) DeleteByFilter(ctx context.Context, collection string, filters Filters) (int, error) {
	if filters.Empty() {
		return 0, domain.E(domain.KindNoFilter, "semantic.delete", domain.ErrNoFilterProvided)
	}

	before, err := x.Count(ctx, collection)
	if err != nil {
		return 0, err
	}

	wait := true
	_, err = x.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: buildFilter(filters)},
		},
	})
	if err != nil {
		return 0, domain.E(domain.KindExternalService, "semantic.delete", err)
	}

	after, err := x.Count(ctx, collection)
	if err != nil {
		return 0, err
	}
	x.cache.clear()
	return int(before - after), nil
}

// DeleteByDocument removes every chunk of a document. Used for re-ingestion.
func (x *Index) DeleteByDocument(ctx context.Context, collection, docID string) error {
	wait := true
	_, err := x.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: NewFilter().DocID(docID).Build(),
			},
		},
	})
	if err != nil {
		return domain.E(domain.KindExternalService, "semantic.delete", fmt.Errorf("doc %s: %w", docID, err))
	}
	x.cache.clear()
	return nil
}

// Count returns the exact number of points in the collection.
func (x *Index) Count(ctx context.Context, collection string) (uint64, error) {
	exact := true
	resp, err := x.points.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, domain.E(domain.KindExternalService, "semantic.count", err)
	}
	return resp.GetResult().GetCount(), nil
}

// Info returns collection status and point count.
func (x *Index) Info(ctx context.Context, collection string) (*pb.CollectionInfo, error) {
	resp, err := x.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err != nil {
		return nil, domain.E(domain.KindExternalService, "semantic.info", err)
	}
	return resp.GetResult(), nil
}

// Health checks connectivity to the vector store.
func (x *Index) Health(ctx context.Context) error {
	if _, err := x.root.HealthCheck(ctx, &pb.HealthCheckRequest{}); err != nil {
		return domain.E(domain.KindExternalService, "semantic.health", err)
	}
	return nil
}

func scoredToHits(points []*pb.ScoredPoint) []Hit {
	hits := make([]Hit, len(points))
	for i, p := range points {
		h := Hit{
			ID:    p.GetId().GetUuid(),
			Score: p.GetScore(),
			Meta:  make(map[string]string),
		}
		for k, val := range p.GetPayload() {
			var s string
			switch kind := val.GetKind().(type) {
			case *pb.Value_StringValue:
				s = kind.StringValue
			case *pb.Value_IntegerValue:
				s = fmt.Sprintf("%d", kind.IntegerValue)
			case *pb.Value_DoubleValue:
				s = fmt.Sprintf("%g", kind.DoubleValue)
			case *pb.Value_BoolValue:
				s = fmt.Sprintf("%t", kind.BoolValue)
			default:
				continue
			}
			if k == PayloadText {
				h.Text = s
				continue
			}
			h.Meta[k] = s
		}
		hits[i] = h
	}
	return hits
}
