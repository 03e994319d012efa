package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	"axoncore/src/helper/jsonx"
)

type AdapterRecordDTO struct {
	PluginUniqueName    string         `json:"plugin_unique_name"`
	PluginName          string         `json:"plugin_name"`
	ID                  string         `json:"id"`
	ClientUsed          string         `json:"client_used,omitempty"`
	AccurateForDatetime any            `json:"accurate_for_datetime,omitempty"`
	LastSeen            any            `json:"last_seen,omitempty"`
	PendingDelete       bool           `json:"pending_delete,omitempty"`
	Old                 bool           `json:"_old,omitempty"`
	Data                map[string]any `json:"data,omitempty"`
	Raw                 map[string]any `json:"raw,omitempty"`
}

type IngestRequestDTO struct {
	Records []AdapterRecordDTO `json:"records"`
}

func (v *Validator) DecodeIngest(data []byte, entityType string) (domain.IngestRequest, error) {
	if err := v.ValidateIngest(data); err != nil {
		return domain.IngestRequest{}, err
	}

	var payload IngestRequestDTO
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.IngestRequest{}, fmt.Errorf("%w: %s", domain.ErrValidation, err.Error())
	}

	et, err := domain.ParseEntityType(entityType)
	if err != nil {
		return domain.IngestRequest{}, err
	}

	request := domain.IngestRequest{EntityType: et, Records: make([]entities.AdapterRecord, len(payload.Records))}
	for i, r := range payload.Records {
		record, err := r.toDomain()
		if err != nil {
			return domain.IngestRequest{}, fmt.Errorf("records[%d]: %w", i, err)
		}
		request.Records[i] = record
	}
	return request, nil
}

func (r AdapterRecordDTO) toDomain() (entities.AdapterRecord, error) {
	record := entities.AdapterRecord{
		PluginUniqueName: r.PluginUniqueName,
		PluginName:       r.PluginName,
		ID:               r.ID,
		ClientUsed:       r.ClientUsed,
		PendingDelete:    r.PendingDelete,
		Old:              r.Old,
		Data:             jsonx.DecodeDatesMap(r.Data),
		Raw:              jsonx.DecodeDatesMap(r.Raw),
	}

	if r.AccurateForDatetime != nil {
		ts, err := wireDate(r.AccurateForDatetime)
		if err != nil {
			return entities.AdapterRecord{}, fmt.Errorf("%w: accurate_for_datetime: %s", domain.ErrValidation, err.Error())
		}
		record.AccurateForDatetime = ts
	}
	if r.LastSeen != nil {
		ts, err := wireDate(r.LastSeen)
		if err != nil {
			return entities.AdapterRecord{}, fmt.Errorf("%w: last_seen: %s", domain.ErrValidation, err.Error())
		}
		record.LastSeen = &ts
	}
	return record, nil
}

// wireDate aceita {"$date": millis} ou uma string RFC 3339.
func wireDate(v any) (time.Time, error) {
	if s, ok := v.(string); ok {
		return time.Parse(time.RFC3339Nano, s)
	}
	if ts, ok := jsonx.DecodeDates(v).(time.Time); ok {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("expected {\"$date\": <millis>} or an RFC 3339 string, got %T", v)
}
