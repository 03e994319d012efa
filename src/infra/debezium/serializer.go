package debezium

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CDCSerializer faz o parse e o filtro das mensagens do Debezium
type CDCSerializer struct {
	IncludeTables []string
	SkipSnapshots bool
}

// IsTableMonitored aceita nome exato ou prefixo terminado em "*"
func (s *CDCSerializer) IsTableMonitored(tableName string) bool {
	for _, included := range s.IncludeTables {
		if tableName == included {
			return true
		}
		if strings.HasSuffix(included, "*") && strings.HasPrefix(tableName, strings.TrimSuffix(included, "*")) {
			return true
		}
	}
	return false
}

// ParseCDCEvent aceita o evento puro ou o envelope {"schema": ..., "payload": ...} do JsonConverter com schemas.
func (s *CDCSerializer) ParseCDCEvent(messageValue []byte) (*CDCEvent, error) {
	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(messageValue, &envelope); err == nil && len(envelope.Payload) > 0 && string(envelope.Payload) != "null" {
		messageValue = envelope.Payload
	}

	var cdcEvent CDCEvent
	if err := json.Unmarshal(messageValue, &cdcEvent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CDC event: %w", err)
	}

	if err := s.validateCDCEvent(&cdcEvent); err != nil {
		return nil, fmt.Errorf("invalid CDC event: %w", err)
	}

	return &cdcEvent, nil
}

func (s *CDCSerializer) validateCDCEvent(event *CDCEvent) error {
	if event.Source.Table == "" {
		return fmt.Errorf("missing source table")
	}

	switch event.Operation {
	case "c", "u", "r":
		if event.After == nil {
			return fmt.Errorf("missing 'after' data for operation %s", event.Operation)
		}
	case "d":
		if event.Before == nil {
			return fmt.Errorf("missing 'before' data for delete operation")
		}
	case "":
		return fmt.Errorf("missing operation")
	default:
		return fmt.Errorf("invalid operation: %s", event.Operation)
	}

	return nil
}

func (s *CDCSerializer) ShouldProcessEvent(event *CDCEvent) bool {
	if !s.IsTableMonitored(event.Source.Table) {
		return false
	}
	if s.SkipSnapshots && event.Source.Snapshot == "true" {
		return false
	}
	return true
}
