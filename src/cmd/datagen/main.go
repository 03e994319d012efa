package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/go-faker/faker/v4"

	"axoncore/src/adapters/dto"
	"axoncore/src/adapters/kafka/consumers"
	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	"axoncore/src/infra/kafka"
)

type adapterPlugin struct {
	PluginName       string
	PluginUniqueName string
	ClientUsed       string
}

var plugins = []adapterPlugin{
	{PluginName: "active_directory_adapter", PluginUniqueName: "active_directory_adapter_0", ClientUsed: "corp.local"},
	{PluginName: "crowd_strike_adapter", PluginUniqueName: "crowd_strike_adapter_0", ClientUsed: "falcon-us-1"},
	{PluginName: "aws_adapter", PluginUniqueName: "aws_adapter_0", ClientUsed: "prod-account"},
	{PluginName: "qualys_scans_adapter", PluginUniqueName: "qualys_scans_adapter_0", ClientUsed: "qualys-eu"},
	{PluginName: "esx_adapter", PluginUniqueName: "esx_adapter_1", ClientUsed: "vcenter-dc2"},
}

var osTypes = []string{"Windows", "Linux", "OS X"}

type recordsMessage struct {
	EntityType string                 `json:"entity_type"`
	Records    []dto.AdapterRecordDTO `json:"records"`
}

// generateDevice cria os registros de um device físico visto por 1 a 3 adapters.
func generateDevice(now time.Time) []dto.AdapterRecordDTO {
	hostname := fmt.Sprintf("%s-%s", faker.Word(), gofakeit.LetterN(6))
	mac := faker.MacAddress()
	osType := osTypes[rand.Intn(len(osTypes))]

	seenBy := rand.Perm(len(plugins))[:1+rand.Intn(3)]
	records := make([]dto.AdapterRecordDTO, 0, len(seenBy))

	for _, idx := range seenBy {
		plugin := plugins[idx]
		lastSeen := now.Add(-time.Duration(rand.Intn(72)) * time.Hour)

		records = append(records, dto.AdapterRecordDTO{
			PluginUniqueName:    plugin.PluginUniqueName,
			PluginName:          plugin.PluginName,
			ID:                  faker.UUIDDigit(),
			ClientUsed:          plugin.ClientUsed,
			AccurateForDatetime: map[string]any{"$date": now.UnixMilli()},
			LastSeen:            map[string]any{"$date": lastSeen.UnixMilli()},
			Data: map[string]any{
				"hostname": hostname,
				"os": map[string]any{
					"type":         osType,
					"distribution": gofakeit.AppVersion(),
				},
				"network_interfaces": []any{
					map[string]any{"mac": mac, "ips": []any{gofakeit.IPv4Address()}},
				},
				"last_used_users": []any{faker.Username()},
			},
		})
	}
	return records
}

// linkPushes liga os registros do mesmo device ao primeiro deles.
func linkPushes(records []dto.AdapterRecordDTO) []dto.PushRequestDTO {
	var pushes []dto.PushRequestDTO
	for _, other := range records[1:] {
		pushes = append(pushes, dto.PushRequestDTO{
			EntityType:      string(domain.EntityTypeDevices),
			AssociationType: string(domain.AssociationLink),
			AssociatedAdapters: []entities.AdapterKey{
				{PluginUniqueName: records[0].PluginUniqueName, ID: records[0].ID},
				{PluginUniqueName: other.PluginUniqueName, ID: other.ID},
			},
			PluginUniqueName: "static_correlator_0",
			PluginName:       "static_correlator",
		})
	}
	return pushes
}

func encode(logger *slog.Logger, messageType string, payload any) (kafka.Message, bool) {
	value, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to marshal message", "error", err)
		return kafka.Message{}, false
	}
	return kafka.Message{
		Key:     string(domain.EntityTypeDevices),
		Value:   value,
		Headers: map[string]string{consumers.MessageTypeHeader: messageType},
	}, true
}

func main() {
	totalDevices := flag.Int("count", 1000, "Total number of devices to generate. Use -1 for infinite.")
	batchSize := flag.Int("batch-size", 100, "Number of devices per batch")
	topic := flag.String("topic", "", "Kafka push topic (required)")
	brokers := flag.String("brokers", "", "Kafka brokers (comma-separated) (required)")
	delayMs := flag.Int("delay-ms", 100, "Delay in milliseconds between batches")
	flag.Parse()

	if *topic == "" {
		log.Fatal("The 'topic' flag is required")
	}
	if *brokers == "" {
		log.Fatal("The 'brokers' flag is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	kafkaClient, err := kafka.NewKafkaClient(logger, *brokers, "", *batchSize)
	if err != nil {
		log.Fatalf("Failed to create Kafka client: %v", err)
	}
	defer kafkaClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, stopping...")
		cancel()
	}()

	isInfinite := *totalDevices == -1
	devicesSent := 0
	startTime := time.Now()

	for isInfinite || devicesSent < *totalDevices {
		select {
		case <-ctx.Done():
			log.Println("Shutdown requested, stopping generation")
			return
		default:
		}

		currentBatch := *batchSize
		if !isInfinite && *totalDevices-devicesSent < currentBatch {
			currentBatch = *totalDevices - devicesSent
		}

		now := time.Now().UTC()
		batch := recordsMessage{EntityType: string(domain.EntityTypeDevices)}
		var links []dto.PushRequestDTO
		for i := 0; i < currentBatch; i++ {
			records := generateDevice(now)
			batch.Records = append(batch.Records, records...)
			links = append(links, linkPushes(records)...)
		}

		// registros antes dos links: mesma chave, mesma partição, ordem preservada
		var messages []kafka.Message
		if msg, ok := encode(logger, consumers.MessageTypeRecords, batch); ok {
			messages = append(messages, msg)
		}
		for _, link := range links {
			if msg, ok := encode(logger, consumers.MessageTypePush, link); ok {
				messages = append(messages, msg)
			}
		}

		if err := kafkaClient.Producer(messages, *topic); err != nil {
			log.Printf("Failed to send batch: %v", err)
			continue
		}

		devicesSent += currentBatch
		rate := float64(devicesSent) / time.Since(startTime).Seconds()
		log.Printf("Sent %d devices (%d links), %.1f devices/s", devicesSent, len(links), rate)

		time.Sleep(time.Duration(*delayMs) * time.Millisecond)
	}

	log.Printf("Done: %d devices in %s", devicesSent, time.Since(startTime).Round(time.Millisecond))
}
