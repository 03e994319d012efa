// Package aql compila o filtro AQL digitado na GUI para a query nativa do store de views.
package aql

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.mongodb.org/mongo-driver/bson"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	"axoncore/src/helper/metrics"
)

const DefaultCacheSize = 100

type SavedQueryRepository interface {
	FindSavedQuery(ctx context.Context, id string) (entities.SavedQuery, error)
}

type ConnectionLabelRepository interface {
	ListClientConnections(ctx context.Context) ([]entities.ClientConnection, error)
}

type RecipeResultRepository interface {
	FindRecipeResultIDs(ctx context.Context, ref domain.RecipeRef) ([]string, error)
}

type Compiler struct {
	logger           *slog.Logger
	savedQueries     SavedQueryRepository
	connectionLabels ConnectionLabelRepository
	recipeResults    RecipeResultRepository

	cache           *lru.Cache[string, bson.M]
	cacheSize       int
	includeOutdated bool
	now             func() time.Time
}

type Option func(*Compiler)

func WithCacheSize(size int) Option {
	return func(c *Compiler) {
		if size > 0 {
			c.cacheSize = size
		}
	}
}

// WithIncludeOutdated keeps adapter data marked _old in field-path matches.
func WithIncludeOutdated(include bool) Option {
	return func(c *Compiler) { c.includeOutdated = include }
}

func WithClock(now func() time.Time) Option {
	return func(c *Compiler) { c.now = now }
}

func NewCompiler(
	logger *slog.Logger,
	savedQueries SavedQueryRepository,
	connectionLabels ConnectionLabelRepository,
	recipeResults RecipeResultRepository,
	opts ...Option,
) (*Compiler, error) {
	c := &Compiler{
		logger:           logger,
		savedQueries:     savedQueries,
		connectionLabels: connectionLabels,
		recipeResults:    recipeResults,
		cacheSize:        DefaultCacheSize,
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}

	cache, err := lru.New[string, bson.M](c.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("NewCompiler - failed to create cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

// Compile transforma aql na query nativa. forDate troca o "agora" do NOW; entityType restringe
// as saved queries que podem ser expandidas. Só o parse e o que vem depois ficam em cache: as
// expansões que leem dados vivos rodam sempre.
func (c *Compiler) Compile(ctx context.Context, aql string, forDate *time.Time, entityType *domain.EntityType) (bson.M, error) {
	tokens, err := tokenize(aql)
	if err != nil {
		return nil, err
	}

	recipe, tokens, err := splitRecipePrefix(tokens)
	if err != nil {
		return nil, err
	}

	req := compileRequest{reference: c.now(), entityType: entityType}
	if forDate != nil {
		req.reference = forDate.UTC()
	}

	for _, pass := range c.passes() {
		tokens, err = pass.apply(ctx, req, tokens)
		if err != nil {
			return nil, err
		}
	}

	key := render(tokens) + "|outdated=" + strconv.FormatBool(c.includeOutdated)
	query, hit := c.cache.Get(key)
	if hit {
		metrics.CompileCache.WithLabelValues("hit").Inc()
	} else {
		metrics.CompileCache.WithLabelValues("miss").Inc()
		query, err = c.compileTokens(tokens)
		if err != nil {
			c.logger.Debug("query compile failed", "filter", aql, "error", err)
			return nil, err
		}
		c.cache.Add(key, query)
	}
	query = cloneQuery(query).(bson.M)

	if recipe != nil {
		query, err = c.constrainToRecipe(ctx, *recipe, query)
		if err != nil {
			return nil, err
		}
	}

	return query, nil
}

// compileTokens é a parte cacheável: parse, $not -> $nor, caminhos de campo e COMPARE.
func (c *Compiler) compileTokens(tokens []token) (bson.M, error) {
	query, err := parse(tokens)
	if err != nil {
		return nil, err
	}
	if query, err = normalizeNegation(query); err != nil {
		return nil, err
	}
	if query, err = (fieldRewriter{includeOutdated: c.includeOutdated}).rewrite(query); err != nil {
		return nil, err
	}
	return expandCompare(query)
}

func (c *Compiler) constrainToRecipe(ctx context.Context, recipe domain.RecipeRef, query bson.M) (bson.M, error) {
	if c.recipeResults == nil {
		return nil, domain.NewCompileError(recipePrefix, "recipe results are not available")
	}

	ids, err := c.recipeResults.FindRecipeResultIDs(ctx, recipe)
	if err != nil {
		return nil, fmt.Errorf("Compiler.Compile - failed to load results of recipe %s: %w", recipe.RecipeRunID, err)
	}

	in := make(bson.A, len(ids))
	for i, id := range ids {
		in[i] = id
	}
	constraint := bson.M{"internal_axon_id": bson.M{"$in": in}}

	if len(query) == 0 {
		return constraint, nil
	}
	return bson.M{"$and": bson.A{query, constraint}}, nil
}
