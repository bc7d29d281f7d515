package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/timmy/voicecat/internal/domain"
)

// voicePointNamespace scopes the deterministic point ids of utterances.
var voicePointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("voicecat/utterance"))

const upsertBatchSize = 256

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS     bool
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// VoicePoint is one utterance embedding with its analysis labels.
type VoicePoint struct {
	Source    string
	Utterance string
	Speaker   string
	WasNoise  bool
	Gender    string
	Vector    []float32
}

// VoicePointID returns the deterministic point id of an utterance, so
// re-indexing a source overwrites its points.
func VoicePointID(source, utterance string) string {
	return uuid.NewSHA1(voicePointNamespace, []byte(source+"/"+utterance)).String()
}

// VoiceIndex stores utterance embeddings in Qdrant for similar-voice search.
type VoiceIndex struct {
	conn           *grpc.ClientConn
	pointsClient   pb.PointsClient
	collectClient  pb.CollectionsClient
	collectionName string
}

// NewVoiceIndex connects to Qdrant.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key)
func NewVoiceIndex(cfg *QdrantConnectionConfig) (*VoiceIndex, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &VoiceIndex{
		conn:           conn,
		pointsClient:   pb.NewPointsClient(conn),
		collectClient:  pb.NewCollectionsClient(conn),
		collectionName: cfg.Collection,
	}, nil
}

// Close closes the gRPC connection
func (v *VoiceIndex) Close() error {
	return v.conn.Close()
}

// EnsureCollection creates the collection for vectors of size dim if it
// doesn't exist, and rejects an existing collection of another size.
func (v *VoiceIndex) EnsureCollection(ctx context.Context, dim int) error {
	info, err := v.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: v.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(dim) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", v.collectionName, size, dim)
		}
		return nil
	}

	_, err = v.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil && single.GetSize() > 0 {
		return single.GetSize(), true
	}
	for _, params := range vectors.GetParamsMap().GetMap() {
		if params.GetSize() > 0 {
			return params.GetSize(), true
		}
	}
	return 0, false
}

// Upsert writes points in batches and returns how many were written.
func (v *VoiceIndex) Upsert(ctx context.Context, points []VoicePoint) (int, error) {
	written := 0
	for start := 0; start < len(points); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(points))

		batch := make([]*pb.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, toPointStruct(p))
		}

		wait := true
		if _, err := v.pointsClient.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: v.collectionName,
			Wait:           &wait,
			Points:         batch,
		}); err != nil {
			return written, fmt.Errorf("failed to upsert points: %w", err)
		}
		written += len(batch)
	}
	return written, nil
}

func toPointStruct(p VoicePoint) *pb.PointStruct {
	return &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: VoicePointID(p.Source, p.Utterance)},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}},
		},
		Payload: map[string]*pb.Value{
			"source":    stringValue(p.Source),
			"utterance": stringValue(p.Utterance),
			"speaker":   stringValue(p.Speaker),
			"was_noise": {Kind: &pb.Value_BoolValue{BoolValue: p.WasNoise}},
			"gender":    stringValue(p.Gender),
		},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// VoiceMatch is a similar-voice search hit.
type VoiceMatch struct {
	Utterance string  `json:"utterance"`
	Source    string  `json:"source"`
	Speaker   string  `json:"speaker"`
	Gender    string  `json:"gender"`
	WasNoise  bool    `json:"was_noise"`
	Score     float32 `json:"score"`
}

// VoiceFilters restricts a search.
type VoiceFilters struct {
	Source string
	Gender string
}

// Vector fetches the stored embedding of an utterance.
func (v *VoiceIndex) Vector(ctx context.Context, source, utterance string) ([]float32, error) {
	resp, err := v.pointsClient.Get(ctx, &pb.GetPoints{
		CollectionName: v.collectionName,
		Ids: []*pb.PointId{
			{PointIdOptions: &pb.PointId_Uuid{Uuid: VoicePointID(source, utterance)}},
		},
		WithVectors: &pb.WithVectorsSelector{
			SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point: %w", err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrNotIndexed, source, utterance)
	}
	return resp.GetResult()[0].GetVectors().GetVector().GetData(), nil
}

// Search returns the topK utterances closest to vector.
func (v *VoiceIndex) Search(ctx context.Context, vector []float32, topK int, filters VoiceFilters) ([]VoiceMatch, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
		Filter: buildVoiceFilter(filters),
	}

	resp, err := v.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]VoiceMatch, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		payload := scored.GetPayload()
		matches = append(matches, VoiceMatch{
			Utterance: payload["utterance"].GetStringValue(),
			Source:    payload["source"].GetStringValue(),
			Speaker:   payload["speaker"].GetStringValue(),
			Gender:    payload["gender"].GetStringValue(),
			WasNoise:  payload["was_noise"].GetBoolValue(),
			Score:     scored.GetScore(),
		})
	}
	return matches, nil
}

func buildVoiceFilter(filters VoiceFilters) *pb.Filter {
	var conditions []*pb.Condition
	for _, kv := range [][2]string{{"source", filters.Source}, {"gender", filters.Gender}} {
		key, value := kv[0], kv[1]
		if value == "" {
			continue
		}
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   key,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
				},
			},
		})
	}
	if len(conditions) == 0 {
		return nil
	}
	return &pb.Filter{Must: conditions}
}
