package stubs

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"axoncore/src/domain/entities"
)

type TagStub struct {
	tag entities.Tag
}

// NewTagStub cria uma label ligada emitida pela GUI.
func NewTagStub() TagStub {
	tag := entities.Tag{
		PluginUniqueName:    "gui",
		PluginName:          "gui",
		Name:                gofakeit.Word(),
		Type:                entities.TagTypeLabel,
		Data:                true,
		AccurateForDatetime: time.Now().UTC().Truncate(time.Millisecond),
	}
	return TagStub{tag: tag}
}

func (s TagStub) WithIssuer(pluginUniqueName, pluginName string) TagStub {
	s.tag.PluginUniqueName = pluginUniqueName
	s.tag.PluginName = pluginName
	return s
}

func (s TagStub) WithName(name string) TagStub {
	s.tag.Name = name
	return s
}

func (s TagStub) WithType(tagType entities.TagType) TagStub {
	s.tag.Type = tagType
	return s
}

func (s TagStub) WithData(data any) TagStub {
	s.tag.Data = data
	return s
}

func (s TagStub) AssociatedWith(keys ...entities.AdapterKey) TagStub {
	s.tag.AssociatedAdapters = keys
	return s
}

func (s TagStub) WithAssociatedAdapterPluginName(pluginName string) TagStub {
	s.tag.AssociatedAdapterPluginName = pluginName
	return s
}

func (s TagStub) WithAccurateFor(t time.Time) TagStub {
	s.tag.AccurateForDatetime = t
	return s
}

func (s TagStub) Get() entities.Tag {
	return s.tag
}
