package stubs

import (
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"axoncore/src/domain/entities"
)

type EntityStub struct {
	entity entities.Entity
}

// NewEntityStub cria uma entidade com um único registro de adapter e sem tags.
func NewEntityStub() EntityStub {
	record := NewAdapterRecordStub().Get()

	entity := entities.Entity{
		InternalAxonID:      strings.ReplaceAll(gofakeit.UUID(), "-", ""),
		Adapters:            []entities.AdapterRecord{record},
		Tags:                []entities.Tag{},
		AccurateForDatetime: record.AccurateForDatetime,
	}
	entity.RecomputeAdapterCount()

	return EntityStub{entity: entity}
}

func (s EntityStub) WithID(id string) EntityStub {
	s.entity.InternalAxonID = id
	return s
}

// WithAdapters substitui os registros e recalcula adapter_count.
func (s EntityStub) WithAdapters(records ...entities.AdapterRecord) EntityStub {
	s.entity.Adapters = records
	s.entity.RecomputeAdapterCount()
	return s
}

func (s EntityStub) WithTags(tags ...entities.Tag) EntityStub {
	s.entity.Tags = tags
	return s
}

func (s EntityStub) WithAccurateFor(t time.Time) EntityStub {
	s.entity.AccurateForDatetime = t
	return s
}

func (s EntityStub) Get() entities.Entity {
	return s.entity.Clone()
}
