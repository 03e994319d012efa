package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrStageClosed = errors.New("staged write already committed or aborted")

// StagedWrite escreve numa coleção temporária e, no Commit, troca a coleção alvo por ela com um
// único renameCollection (dropTarget). Leitores da coleção alvo nunca veem o estado intermediário.
type StagedWrite struct {
	database *mongo.Database
	target   string
	staging  *mongo.Collection
	indexes  []mongo.IndexModel
	closed   bool
}

// NewStagedWrite cria a coleção de staging. indexes são criados nela antes da troca.
func NewStagedWrite(ctx context.Context, database *mongo.Database, target string, indexes []mongo.IndexModel) (*StagedWrite, error) {
	name := target + "_staging_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if err := database.CreateCollection(ctx, name); err != nil {
		return nil, fmt.Errorf("StagedWrite - failed to create %s: %w", name, err)
	}

	return &StagedWrite{
		database: database,
		target:   target,
		staging:  database.Collection(name),
		indexes:  indexes,
	}, nil
}

func (s *StagedWrite) Name() string {
	return s.staging.Name()
}

func (s *StagedWrite) Insert(ctx context.Context, documents []any) error {
	if s.closed {
		return ErrStageClosed
	}
	if len(documents) == 0 {
		return nil
	}
	if _, err := s.staging.InsertMany(ctx, documents, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("StagedWrite.Insert - %w", err)
	}
	return nil
}

// Commit cria os índices e faz a troca atômica.
func (s *StagedWrite) Commit(ctx context.Context) error {
	if s.closed {
		return ErrStageClosed
	}

	if len(s.indexes) > 0 {
		if _, err := s.staging.Indexes().CreateMany(ctx, s.indexes); err != nil {
			return fmt.Errorf("StagedWrite.Commit - failed to create indexes: %w", err)
		}
	}

	dbName := s.database.Name()
	command := bson.D{
		{Key: "renameCollection", Value: dbName + "." + s.staging.Name()},
		{Key: "to", Value: dbName + "." + s.target},
		{Key: "dropTarget", Value: true},
	}
	if err := s.database.Client().Database("admin").RunCommand(ctx, command).Err(); err != nil {
		return fmt.Errorf("StagedWrite.Commit - failed to swap %s into %s: %w", s.staging.Name(), s.target, err)
	}

	s.closed = true
	return nil
}

// Abort apaga a coleção de staging. Depois de um Commit não faz nada.
func (s *StagedWrite) Abort(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.staging.Drop(ctx); err != nil {
		return fmt.Errorf("StagedWrite.Abort - failed to drop %s: %w", s.staging.Name(), err)
	}
	return nil
}
