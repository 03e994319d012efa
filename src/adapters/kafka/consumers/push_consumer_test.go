package consumers_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"axoncore/src/adapters/dto"
	"axoncore/src/adapters/kafka/consumers"
	"axoncore/src/domain"
	"axoncore/src/infra/kafka"
)

type correlationFake struct {
	pushes  []domain.PushRequest
	ingests []domain.IngestRequest
	errFor  map[string]error
}

func (c *correlationFake) Push(_ context.Context, request domain.PushRequest) (domain.PushResult, error) {
	c.pushes = append(c.pushes, request)
	if err := c.errFor[request.AssociatedAdapters[0].ID]; err != nil {
		return domain.PushResult{}, err
	}
	return domain.PushResult{AffectedIDs: []string{"x"}}, nil
}

func (c *correlationFake) IngestRecords(_ context.Context, request domain.IngestRequest) (domain.PushResult, error) {
	c.ingests = append(c.ingests, request)
	return domain.PushResult{AffectedIDs: []string{"x"}}, nil
}

type rebuildCall struct {
	entityType domain.EntityType
	ids        []string
}

type rebuilderFake struct {
	calls []rebuildCall
}

func (r *rebuilderFake) Rebuild(_ context.Context, entityType domain.EntityType, ids []string) error {
	r.calls = append(r.calls, rebuildCall{entityType: entityType, ids: ids})
	return nil
}

func pushMessage(entityType, id string) kafka.Message {
	return kafka.Message{
		Key:     id,
		Value:   []byte(fmt.Sprintf(`{"entity_type": %q, "association_type": "Unlink", "associated_adapters": [["a_0", %q]]}`, entityType, id)),
		Headers: map[string]string{consumers.MessageTypeHeader: consumers.MessageTypePush},
	}
}

var _ = Describe("PushConsumer", func() {
	var (
		correlation *correlationFake
		rebuilder   *rebuilderFake
		consumer    *consumers.PushConsumer
	)

	BeforeEach(func() {
		validator, err := dto.NewValidator()
		Expect(err).NotTo(HaveOccurred())

		correlation = &correlationFake{errFor: map[string]error{}}
		rebuilder = &rebuilderFake{}
		logger := slog.New(slog.NewTextHandler(GinkgoWriter, nil))
		consumer = consumers.NewPushConsumer(logger, validator, correlation, rebuilder, 3)
	})

	It("applies a small batch in order with partial rebuilds", func() {
		// ACT
		err := consumer.HandleMessages(context.Background(), []kafka.Message{
			pushMessage("devices", "1"),
			pushMessage("users", "2"),
		})

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		Expect(correlation.pushes).To(HaveLen(2))
		Expect(correlation.pushes[0].EntityType).To(Equal(domain.EntityTypeDevices))
		Expect(correlation.pushes[0].SkipRebuild).To(BeFalse())
		Expect(correlation.pushes[1].EntityType).To(Equal(domain.EntityTypeUsers))
		Expect(rebuilder.calls).To(BeEmpty())
	})

	It("switches a large batch to one full rebuild per touched type", func() {
		// ARRANGE
		var batch []kafka.Message
		for i := 0; i < 4; i++ {
			batch = append(batch, pushMessage("devices", fmt.Sprint(i)))
		}

		// ACT
		err := consumer.HandleMessages(context.Background(), batch)

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		for _, p := range correlation.pushes {
			Expect(p.SkipRebuild).To(BeTrue())
		}
		Expect(rebuilder.calls).To(Equal([]rebuildCall{{entityType: domain.EntityTypeDevices}}))
	})

	It("routes records messages to ingestion", func() {
		// ARRANGE
		msg := kafka.Message{
			Key:     "batch-1",
			Value:   []byte(`{"records": [{"plugin_unique_name": "a_0", "plugin_name": "a", "id": "1"}]}`),
			Headers: map[string]string{consumers.MessageTypeHeader: consumers.MessageTypeRecords, "entity_type": "users"},
		}

		// ACT
		err := consumer.HandleMessages(context.Background(), []kafka.Message{msg})

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		Expect(correlation.ingests).To(HaveLen(1))
		Expect(correlation.ingests[0].EntityType).To(Equal(domain.EntityTypeUsers))
		Expect(correlation.pushes).To(BeEmpty())
	})

	It("treats a message without type header as a push", func() {
		// ARRANGE
		msg := pushMessage("devices", "1")
		msg.Headers = nil

		// ACT
		err := consumer.HandleMessages(context.Background(), []kafka.Message{msg})

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		Expect(correlation.pushes).To(HaveLen(1))
	})

	It("acknowledges rejected messages and keeps going", func() {
		// ARRANGE
		correlation.errFor["2"] = fmt.Errorf("wrapped: %w", domain.ErrCardinality)
		broken := kafka.Message{Key: "bad", Value: []byte(`not json`)}
		unknown := pushMessage("devices", "4")
		unknown.Headers[consumers.MessageTypeHeader] = "gossip"

		// ACT
		err := consumer.HandleMessages(context.Background(), []kafka.Message{
			pushMessage("devices", "1"), broken, pushMessage("devices", "2"), unknown, pushMessage("devices", "3"),
		})

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		Expect(correlation.pushes).To(HaveLen(3))
	})

	It("fails the batch on a store error", func() {
		// ARRANGE
		correlation.errFor["2"] = fmt.Errorf("%w: %w", domain.ErrStore, errors.New("connection refused"))

		// ACT
		err := consumer.HandleMessages(context.Background(), []kafka.Message{
			pushMessage("devices", "1"), pushMessage("devices", "2"), pushMessage("devices", "3"),
		})

		// ASSERT
		Expect(err).To(MatchError(domain.ErrStore))
		Expect(correlation.pushes).To(HaveLen(2))
	})

	It("does nothing for an empty batch", func() {
		// ACT
		err := consumer.HandleMessages(context.Background(), nil)

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		Expect(correlation.pushes).To(BeEmpty())
	})
})
