package stubs

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"axoncore/src/domain/entities"
)

type AdapterRecordStub struct {
	record entities.AdapterRecord
}

func NewAdapterRecordStub() AdapterRecordStub {
	now := time.Now().UTC().Truncate(time.Millisecond)

	record := entities.AdapterRecord{
		PluginUniqueName:    "active_directory_adapter_0",
		PluginName:          "active_directory_adapter",
		ID:                  gofakeit.UUID(),
		ClientUsed:          gofakeit.DomainName(),
		AccurateForDatetime: now,
		Data: map[string]any{
			"hostname": gofakeit.Username(),
			"os":       map[string]any{"type": "Windows"},
		},
	}

	return AdapterRecordStub{record: record}
}

// WithPlugin também deriva o plugin_unique_name (<plugin>_0).
func (s AdapterRecordStub) WithPlugin(pluginName string) AdapterRecordStub {
	s.record.PluginName = pluginName
	s.record.PluginUniqueName = pluginName + "_0"
	return s
}

func (s AdapterRecordStub) WithPluginUniqueName(pluginUniqueName string) AdapterRecordStub {
	s.record.PluginUniqueName = pluginUniqueName
	return s
}

func (s AdapterRecordStub) WithID(id string) AdapterRecordStub {
	s.record.ID = id
	return s
}

func (s AdapterRecordStub) WithClientUsed(clientUsed string) AdapterRecordStub {
	s.record.ClientUsed = clientUsed
	return s
}

func (s AdapterRecordStub) WithData(data map[string]any) AdapterRecordStub {
	s.record.Data = data
	return s
}

func (s AdapterRecordStub) WithAccurateFor(t time.Time) AdapterRecordStub {
	s.record.AccurateForDatetime = t
	return s
}

func (s AdapterRecordStub) WithLastSeen(t time.Time) AdapterRecordStub {
	s.record.LastSeen = &t
	return s
}

func (s AdapterRecordStub) PendingDelete() AdapterRecordStub {
	s.record.PendingDelete = true
	return s
}

func (s AdapterRecordStub) Old() AdapterRecordStub {
	s.record.Old = true
	return s
}

func (s AdapterRecordStub) Get() entities.AdapterRecord {
	return s.record
}
