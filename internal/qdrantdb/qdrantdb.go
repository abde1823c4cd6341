package qdrantdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"knowledge-api/internal/models"
)

const (
	payloadID      = "id"
	payloadContent = "content"
)

// pointNamespace seeds the deterministic point ids, since qdrant only
// accepts integers or UUIDs.
var pointNamespace = uuid.MustParse("6f1c2a5e-9d0b-4c1e-8a47-3b5d2e9f7c10")

type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// collectionAPI is the part of the client used to manage the collection.
type collectionAPI interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
}

// Store keeps chunks in a Qdrant collection. The collection is created on the
// first write, sized to the embedder's output.
type Store struct {
	client      *qdrant.Client
	collections collectionAPI
	embedder    embeddings.Embedder
	collection  string

	mu     sync.Mutex
	exists bool
}

func New(cfg Config, embedder embeddings.Embedder) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("collection", cfg.Collection).Msg("Qdrant client ready")
	return &Store{client: client, collections: client, embedder: embedder, collection: cfg.Collection}, nil
}

// PointID maps a chunk id such as "report.pdf_3" to a stable UUID.
func PointID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

func (s *Store) collectionExists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists {
		return true, nil
	}
	ok, err := s.collections.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	s.exists = ok
	return ok, nil
}

// ensureCollection creates the collection once. The check and the create
// share one lock hold so concurrent first writes cannot both create it.
func (s *Store) ensureCollection(ctx context.Context, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists {
		return nil
	}
	ok, err := s.collections.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if ok {
		s.exists = true
		return nil
	}

	err = s.collections.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(size),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	switch {
	case status.Code(err) == codes.AlreadyExists:
		// another replica won the race
		log.Debug().Str("collection", s.collection).Msg("Qdrant collection already exists")
	case err != nil:
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	default:
		log.Info().Str("collection", s.collection).Int("dimension", size).Msg("Created qdrant collection")
	}
	s.exists = true
	return nil
}

func (s *Store) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(records))
	}
	if err := s.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.ID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload(r),
		}
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting points to collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, text string, n int) ([]models.SearchResult, error) {
	ok, err := s.collectionExists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok || n <= 0 {
		return []models.SearchResult{}, nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(n)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.collection, err)
	}

	out := make([]models.SearchResult, 0, len(points))
	for _, p := range points {
		out = append(out, toResult(p.GetPayload(), p.GetScore()))
	}
	return out, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := s.collectionExists(ctx)
	if err != nil || !ok {
		return false, err
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(PointID(id))},
	})
	if err != nil {
		return false, fmt.Errorf("getting point %s: %w", id, err)
	}
	return len(points) > 0, nil
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ok, err := s.collectionExists(ctx)
	if err != nil || !ok {
		return err
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(PointID(id))
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorIDs(pointIDs),
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	ok, err := s.collectionExists(ctx)
	if err != nil || !ok {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(n), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func payload(r models.VectorRecord) map[string]*qdrant.Value {
	p := make(map[string]*qdrant.Value, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		p[k] = qdrant.NewValueString(v)
	}
	p[payloadID] = qdrant.NewValueString(r.ID)
	p[payloadContent] = qdrant.NewValueString(r.Content)
	return p
}

func toResult(p map[string]*qdrant.Value, score float32) models.SearchResult {
	res := models.SearchResult{
		Metadata:   map[string]string{},
		Similarity: score,
	}
	for k, v := range p {
		switch k {
		case payloadID:
			res.ID = v.GetStringValue()
		case payloadContent:
			res.Content = v.GetStringValue()
		default:
			res.Metadata[k] = v.GetStringValue()
		}
	}
	return res
}
