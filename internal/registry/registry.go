// Package registry reads the file and chunk catalog maintained by the
// ingestion pipeline. This service never writes to it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cortexa-labs/ragserver/pkg/logger"
)

const (
	filesCollection  = "files"
	chunksCollection = "chunks"
)

// Chunk is one indexed chunk as stored by the ingestion pipeline
type Chunk struct {
	FileID     string `bson:"file_id"`
	FileName   string `bson:"file_name"`
	UserID     string `bson:"user_id"`
	ChunkIndex int    `bson:"chunk_index"`
	Text       string `bson:"text"`
}

// Registry answers ownership and enumeration queries against the catalog
type Registry struct {
	db  *mongo.Database
	log *slog.Logger
}

func NewRegistry(db *mongo.Database, log *slog.Logger) *Registry {
	return &Registry{db: db, log: log.With(logger.Scope("registry"))}
}

// OwnsFile reports whether the file exists and belongs to the user
func (r *Registry) OwnsFile(ctx context.Context, fileID, userID string) (bool, error) {
	err := r.db.Collection(filesCollection).
		FindOne(ctx, bson.M{"_id": fileID, "user_id": userID}, options.FindOne().SetProjection(bson.M{"_id": 1})).
		Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking file ownership: %w", err)
	}
	return true, nil
}

// FileNames lists the names of the user's uploaded files
func (r *Registry) FileNames(ctx context.Context, userID string) ([]string, error) {
	cursor, err := r.db.Collection(filesCollection).Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetProjection(bson.M{"file_name": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer cursor.Close(ctx)

	var names []string
	for cursor.Next(ctx) {
		var doc struct {
			FileName string `bson:"file_name"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding file: %w", err)
		}
		names = append(names, doc.FileName)
	}
	return names, cursor.Err()
}

// FileCount returns how many files the user has uploaded
func (r *Registry) FileCount(ctx context.Context, userID string) (int64, error) {
	count, err := r.db.Collection(filesCollection).CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("counting files: %w", err)
	}
	return count, nil
}

// ChunksForUser loads the user's full chunk corpus, ordered by file and
// chunk index. Feeds the in-process lexical index.
func (r *Registry) ChunksForUser(ctx context.Context, userID string) ([]Chunk, error) {
	cursor, err := r.db.Collection(chunksCollection).Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "file_id", Value: 1}, {Key: "chunk_index", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}
	defer cursor.Close(ctx)

	var chunks []Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("decoding chunks: %w", err)
	}
	return chunks, nil
}
