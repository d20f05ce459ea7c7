package vectorstore

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// payloadRecordID keeps the original record id next to the UUID point id.
const payloadRecordID = "record_id"

const defaultQdrantMessageSize = 50 * 1024 * 1024

// QdrantConfig holds connection settings for a Qdrant collection.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// QdrantStore keeps records in a Qdrant collection over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	metric     Metric
}

// NewQdrantStore connects to Qdrant. The collection is created by EnsureIndex.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if err := ValidateIndexName(cfg.Collection); err != nil {
		return nil, err
	}
	if cfg.Host == "" {
		return nil, domain.ConfigurationError("qdrant host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(defaultQdrantMessageSize),
				grpc.MaxCallSendMsgSize(defaultQdrantMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantStore{client: client, collection: cfg.Collection, metric: MetricCosine}, nil
}

// pointID maps an arbitrary record id onto the UUID space Qdrant accepts.
func pointID(recordID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(recordID)).String())
}

func qdrantDistance(metric Metric) qdrant.Distance {
	switch metric {
	case MetricDotProduct:
		return qdrant.Distance_Dot
	case MetricEuclidean:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

func (s *QdrantStore) EnsureIndex(ctx context.Context, dimension int, metric Metric) error {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		st, ok := status.FromError(err)
		if !ok || st.Code() != grpccodes.NotFound {
			return fmt.Errorf("failed to inspect collection %s: %w", s.collection, err)
		}
		info = nil
	}

	if info != nil {
		if existing := collectionDimension(info); existing > 0 && existing != dimension {
			return domain.ConfigurationError(fmt.Sprintf("collection %s has dimension %d, configured %d", s.collection, existing, dimension))
		}
	} else {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrantDistance(metric),
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", s.collection, err)
		}
	}

	for _, field := range []string{domain.PayloadSourceKey, domain.PayloadDocumentType} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("failed to index payload field %s: %w", field, err)
		}
	}

	s.metric = metric
	return nil
}

func collectionDimension(info *qdrant.CollectionInfo) int {
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0
	}
	return int(params.GetSize())
}

func (s *QdrantStore) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*qdrant.Value)
		for k, v := range r.Metadata.Payload() {
			payload[k] = toQdrantValue(v)
		}
		payload[payloadRecordID] = toQdrantValue(r.ID)

		points[i] = &qdrant.PointStruct{
			Id:      pointID(r.ID),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qdrantFilter(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", s.collection, err)
	}

	matches := make([]Match, 0, len(results))
	for _, p := range results {
		payload := fromQdrantPayload(p.Payload)
		id, _ := payload[payloadRecordID].(string)
		delete(payload, payloadRecordID)
		if id == "" {
			id = p.GetId().GetUuid()
		}

		score := p.Score
		if s.metric == MetricEuclidean {
			score = 1 / (1 + score)
		}
		matches = append(matches, Match{ID: id, Score: score, Payload: payload})
	}
	return matches, nil
}

func (s *QdrantStore) DeleteMany(ctx context.Context, ids []string) error {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// DeleteByFilter counts the matching points first since Qdrant does not
// report how many points a delete removed.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, filter Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, ErrEmptyFilter
	}
	qf := qdrantFilter(filter)

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         qf,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete points: %w", err)
	}
	return int(count), nil
}

func (s *QdrantStore) Fetch(ctx context.Context, ids []string) ([]domain.VectorRecord, error) {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch points: %w", err)
	}

	records := make([]domain.VectorRecord, 0, len(points))
	for _, p := range points {
		payload := fromQdrantPayload(p.Payload)
		id, _ := payload[payloadRecordID].(string)
		delete(payload, payloadRecordID)

		var embedding []float32
		if dense := p.GetVectors().GetVector().GetDense(); dense != nil {
			embedding = dense.GetData()
		}

		rec, err := recordFromPayload(id, embedding, payload)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func qdrantFilter(f Filter) *qdrant.Filter {
	if f.IsEmpty() {
		return nil
	}
	var must []*qdrant.Condition
	if f.SourceKey != "" {
		must = append(must, keywordCondition(domain.PayloadSourceKey, f.SourceKey))
	}
	if f.DocumentType != "" {
		must = append(must, keywordCondition(domain.PayloadDocumentType, string(f.DocumentType)))
	}
	return &qdrant.Filter{Must: must}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func toQdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		}
	}
	return out
}

var _ Backend = (*QdrantStore)(nil)
