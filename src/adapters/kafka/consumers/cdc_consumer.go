package consumers

import (
	"context"
	"fmt"
	"log/slog"

	"axoncore/src/domain"
	"axoncore/src/infra/debezium"
	"axoncore/src/services/events"
)

type PartialRebuilder interface {
	RebuildPartial(ctx context.Context, entityType domain.EntityType, ids []string) error
}

// CDCConsumer reconstrói as views das entidades alteradas direto no Postgres (migrações, correções manuais).
type CDCConsumer struct {
	logger      *slog.Logger
	cdcClient   *debezium.CDCClient
	transformer *events.CDCTransformer
	rebuilder   PartialRebuilder
}

func NewCDCConsumer(
	logger *slog.Logger,
	cdcClient *debezium.CDCClient,
	transformer *events.CDCTransformer,
	rebuilder PartialRebuilder,
) *CDCConsumer {
	return &CDCConsumer{
		logger:      logger,
		cdcClient:   cdcClient,
		transformer: transformer,
		rebuilder:   rebuilder,
	}
}

func (c *CDCConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting CDC consumer")

	return c.cdcClient.ConsumeCDCEventsBatch(ctx, c.HandleCDCEventsBatch)
}

// HandleCDCEventsBatch faz uma reconstrução parcial por tipo de entidade.
func (c *CDCConsumer) HandleCDCEventsBatch(ctx context.Context, cdcEvents []*debezium.CDCEvent) error {
	if len(cdcEvents) == 0 {
		return nil
	}

	grouped := c.transformer.GroupByEntityType(cdcEvents)

	for _, entityType := range domain.EntityTypes {
		ids := grouped[entityType]
		if len(ids) == 0 {
			continue
		}
		if err := c.rebuilder.RebuildPartial(ctx, entityType, ids); err != nil {
			c.logger.Error("Failed to rebuild views from CDC batch",
				"error", err,
				"entity_type", entityType,
				"ids", len(ids))
			return fmt.Errorf("failed to rebuild %s views: %w", entityType, err)
		}

		c.logger.Info("Rebuilt views from CDC batch", "entity_type", entityType, "ids", len(ids))
	}

	return nil
}

func (c *CDCConsumer) Close() error {
	c.logger.Info("Closing CDC consumer")
	return c.cdcClient.Close()
}
