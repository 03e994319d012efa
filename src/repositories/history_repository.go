package repositories

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	mongoinfra "axoncore/src/infra/mongo"
)

// HistoryRepository só acrescenta documentos. DeleteSnapshot existe apenas para desfazer um snapshot
// que falhou no meio.
type HistoryRepository struct {
	client *mongoinfra.MongoClient
}

func NewHistoryRepository(client *mongoinfra.MongoClient) *HistoryRepository {
	return &HistoryRepository{client: client}
}

func (r *HistoryRepository) collection(entityType domain.EntityType) *mongo.Collection {
	return r.client.Database().Collection("historical_" + string(entityType) + "_db_view")
}

func (r *HistoryRepository) EnsureIndexes(ctx context.Context) error {
	for _, et := range domain.EntityTypes {
		_, err := r.collection(et).Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "accurate_for_datetime", Value: -1}}},
			{Keys: bson.D{{Key: "short_axon_id", Value: 1}, {Key: "internal_axon_id", Value: 1}}},
		})
		if err != nil {
			return fmt.Errorf("HistoryRepository.EnsureIndexes - %s: %w", et, err)
		}
	}
	return nil
}

func (r *HistoryRepository) HasSnapshot(ctx context.Context, entityType domain.EntityType, day time.Time) (bool, error) {
	filter := bson.M{"accurate_for_datetime": bson.M{"$gte": day, "$lt": day.AddDate(0, 0, 1)}}
	n, err := r.collection(entityType).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("HistoryRepository.HasSnapshot - %w: %w", domain.ErrStore, err)
	}
	return n > 0, nil
}

func (r *HistoryRepository) Append(ctx context.Context, entityType domain.EntityType, views []entities.HistoricalView) error {
	if len(views) == 0 {
		return nil
	}
	docs := make([]any, len(views))
	for i, v := range views {
		docs[i] = v
	}
	if _, err := r.collection(entityType).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("HistoryRepository.Append - %w: %w", domain.ErrStore, err)
	}
	return nil
}

func (r *HistoryRepository) DeleteSnapshot(ctx context.Context, entityType domain.EntityType, day time.Time) error {
	filter := bson.M{"accurate_for_datetime": bson.M{"$gte": day, "$lt": day.AddDate(0, 0, 1)}}
	if _, err := r.collection(entityType).DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("HistoryRepository.DeleteSnapshot - %w: %w", domain.ErrStore, err)
	}
	return nil
}
