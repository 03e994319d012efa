package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	mongoinfra "axoncore/src/infra/mongo"
)

const (
	savedQueriesCollection  = "saved_queries"
	connectionsCollection   = "client_connections"
	recipeResultsCollection = "recipe_results"
)

// GUIRepository lê o que a GUI mantém: saved queries, labels de conexão e resultados de recipes.
type GUIRepository struct {
	client *mongoinfra.MongoClient
}

func NewGUIRepository(client *mongoinfra.MongoClient) *GUIRepository {
	return &GUIRepository{client: client}
}

func (r *GUIRepository) FindSavedQuery(ctx context.Context, id string) (entities.SavedQuery, error) {
	var q entities.SavedQuery
	err := r.client.Database().Collection(savedQueriesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&q)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return entities.SavedQuery{}, fmt.Errorf("GUIRepository.FindSavedQuery - saved query %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return entities.SavedQuery{}, fmt.Errorf("GUIRepository.FindSavedQuery - %w: %w", domain.ErrStore, err)
	}
	return q, nil
}

func (r *GUIRepository) ListClientConnections(ctx context.Context) ([]entities.ClientConnection, error) {
	filter := bson.M{"label": bson.M{"$exists": true, "$ne": ""}}
	cursor, err := r.client.Database().Collection(connectionsCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("GUIRepository.ListClientConnections - %w: %w", domain.ErrStore, err)
	}

	var connections []entities.ClientConnection
	if err := cursor.All(ctx, &connections); err != nil {
		return nil, fmt.Errorf("GUIRepository.ListClientConnections - failed to decode: %w", err)
	}
	return connections, nil
}

type recipeResultDocument struct {
	RecipeRunID     string   `bson:"recipe_run_id"`
	Condition       string   `bson:"condition"`
	ActionIndex     int      `bson:"action_index"`
	InternalAxonIDs []string `bson:"internal_axon_ids"`
}

// FindRecipeResultIDs devolve vazio quando o recipe não guardou resultado.
func (r *GUIRepository) FindRecipeResultIDs(ctx context.Context, ref domain.RecipeRef) ([]string, error) {
	filter := bson.M{
		"recipe_run_id": ref.RecipeRunID,
		"condition":     ref.Condition,
		"action_index":  ref.ActionIndex,
	}

	var doc recipeResultDocument
	err := r.client.Database().Collection(recipeResultsCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GUIRepository.FindRecipeResultIDs - %w: %w", domain.ErrStore, err)
	}
	return doc.InternalAxonIDs, nil
}
