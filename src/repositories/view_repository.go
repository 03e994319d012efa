package repositories

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	mongoinfra "axoncore/src/infra/mongo"
)

func viewCollection(entityType domain.EntityType) string {
	return string(entityType) + "_db_view"
}

func viewIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "internal_axon_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "adapters", Value: 1}}},
		{Keys: bson.D{{Key: "labels", Value: 1}}},
		{Keys: bson.D{{Key: "specific_data.plugin_name", Value: 1}}},
	}
}

// ViewRepository é o único escritor das coleções <entity_type>_db_view.
type ViewRepository struct {
	client *mongoinfra.MongoClient
}

func NewViewRepository(client *mongoinfra.MongoClient) *ViewRepository {
	return &ViewRepository{client: client}
}

func (r *ViewRepository) collection(entityType domain.EntityType) *mongo.Collection {
	return r.client.Database().Collection(viewCollection(entityType))
}

func (r *ViewRepository) EnsureIndexes(ctx context.Context) error {
	for _, et := range domain.EntityTypes {
		if _, err := r.collection(et).Indexes().CreateMany(ctx, viewIndexes()); err != nil {
			return fmt.Errorf("ViewRepository.EnsureIndexes - %s: %w", et, err)
		}
	}
	return nil
}

type viewStage struct {
	staged *mongoinfra.StagedWrite
}

func (s *viewStage) Write(ctx context.Context, views []entities.View) error {
	docs := make([]any, len(views))
	for i, v := range views {
		docs[i] = v
	}
	return s.staged.Insert(ctx, docs)
}

func (s *viewStage) Commit(ctx context.Context) error { return s.staged.Commit(ctx) }
func (s *viewStage) Abort(ctx context.Context) error { return s.staged.Abort(ctx) }

func (r *ViewRepository) Stage(ctx context.Context, entityType domain.EntityType) (domain.ViewStage, error) {
	staged, err := mongoinfra.NewStagedWrite(ctx, r.client.Database(), viewCollection(entityType), viewIndexes())
	if err != nil {
		return nil, fmt.Errorf("ViewRepository.Stage - %w: %w", domain.ErrStore, err)
	}
	return &viewStage{staged: staged}, nil
}

func (r *ViewRepository) Upsert(ctx context.Context, entityType domain.EntityType, views []entities.View) error {
	if len(views) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, len(views))
	for i, v := range views {
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"internal_axon_id": v.InternalAxonID}).
			SetReplacement(v).
			SetUpsert(true)
	}

	if _, err := r.collection(entityType).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("ViewRepository.Upsert - %w: %w", domain.ErrStore, err)
	}
	return nil
}

func (r *ViewRepository) Delete(ctx context.Context, entityType domain.EntityType, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.collection(entityType).DeleteMany(ctx, bson.M{"internal_axon_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("ViewRepository.Delete - %w: %w", domain.ErrStore, err)
	}
	return nil
}

func (r *ViewRepository) ForEach(ctx context.Context, entityType domain.EntityType, fn func(entities.View) error) error {
	cursor, err := r.collection(entityType).Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 0}))
	if err != nil {
		return fmt.Errorf("ViewRepository.ForEach - %w: %w", domain.ErrStore, err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var v entities.View
		if err := cursor.Decode(&v); err != nil {
			return fmt.Errorf("ViewRepository.ForEach - failed to decode view: %w", err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("ViewRepository.ForEach - %w: %w", domain.ErrStore, err)
	}
	return nil
}

// Query executa uma query compilada contra as views, ordenada por internal_axon_id.
func (r *ViewRepository) Query(ctx context.Context, entityType domain.EntityType, filter bson.M, limit, skip int64) ([]entities.View, int64, error) {
	collection := r.collection(entityType)

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("ViewRepository.Query - %w: %w", domain.ErrStore, err)
	}

	opts := options.Find().
		SetProjection(bson.M{"_id": 0}).
		SetSort(bson.D{{Key: "internal_axon_id", Value: 1}}).
		SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("ViewRepository.Query - %w: %w", domain.ErrStore, err)
	}

	var views []entities.View
	if err := cursor.All(ctx, &views); err != nil {
		return nil, 0, fmt.Errorf("ViewRepository.Query - failed to decode views: %w", err)
	}
	return views, total, nil
}
