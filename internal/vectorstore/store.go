// Package vectorstore wraps the Qdrant collection holding chunk embeddings.
// All reads are scoped to a user via payload filters; cross-user reads are
// impossible by construction.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/pkg/logger"
)

// Point is one scored chunk returned from the collection
type Point struct {
	FileID     string
	FileName   string
	ChunkIndex int
	Text       string
	Score      float64
}

// CollectionInfo summarizes the collection for the stats endpoint
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount uint64 `json:"pointsCount"`
	Dimension   int    `json:"dimension"`
}

// Store is the Qdrant-backed vector search client
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
	log        *slog.Logger
}

func NewStore(cfg *config.Config, log *slog.Logger) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Vector.Host,
		Port:   cfg.Vector.Port,
		APIKey: cfg.Vector.APIKey,
		UseTLS: cfg.Vector.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	return &Store{
		client:     client,
		collection: cfg.Vector.Collection,
		dimension:  cfg.Vector.VectorSize,
		log:        log.With(logger.Scope("vectorstore")),
	}, nil
}

// EnsureCollection creates the chunk collection if it does not exist yet
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	s.log.Info("created qdrant collection", "collection", s.collection, "dimension", s.dimension)
	return nil
}

// Search returns the limit nearest chunks for the user. A non-empty fileID
// narrows the search to that file's chunks.
func (s *Store) Search(ctx context.Context, vector []float32, limit int, userID, fileID string) ([]Point, error) {
	if limit <= 0 {
		return nil, nil
	}

	must := []*qdrant.Condition{
		qdrant.NewMatch("user_id", userID),
	}
	if fileID != "" {
		must = append(must, qdrant.NewMatch("file_id", fileID))
	}

	limitUint := uint64(limit)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitUint,
		Filter:         &qdrant.Filter{Must: must},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	points := make([]Point, 0, len(results))
	for _, r := range results {
		payload := r.Payload
		points = append(points, Point{
			FileID:     payload["file_id"].GetStringValue(),
			FileName:   payload["file_name"].GetStringValue(),
			ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
			Text:       payload["text"].GetStringValue(),
			Score:      float64(r.Score),
		})
	}
	return points, nil
}

// Count returns how many chunks the user has in the collection
func (s *Store) Count(ctx context.Context, userID string) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("user_id", userID)},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return count, nil
}

// Info reports collection-level stats
func (s *Store) Info(ctx context.Context) (*CollectionInfo, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("fetching collection info: %w", err)
	}
	return &CollectionInfo{
		Name:        s.collection,
		PointsCount: info.GetPointsCount(),
		Dimension:   s.dimension,
	}, nil
}

// Healthy probes the Qdrant server
func (s *Store) Healthy(ctx context.Context) bool {
	_, err := s.client.HealthCheck(ctx)
	return err == nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
