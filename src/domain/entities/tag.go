package entities

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

type TagType string

const (
	TagTypeLabel       TagType = "label"
	TagTypeData        TagType = "data"
	TagTypeAdapterData TagType = "adapterdata"
)

func ParseTagType(s string) (TagType, error) {
	switch TagType(s) {
	case TagTypeLabel, TagTypeData, TagTypeAdapterData:
		return TagType(s), nil
	default:
		return "", fmt.Errorf("unknown tag type %q", s)
	}
}

// TagIdentity: no máximo uma Tag com essa identidade por entidade.
type TagIdentity struct {
	PluginUniqueName string
	Name             string
	Type             TagType
}

// Tag é uma anotação emitida por um plugin sobre uma AxoniusEntity.
type Tag struct {
	PluginUniqueName            string       `json:"plugin_unique_name" bson:"plugin_unique_name"`
	PluginName                  string       `json:"plugin_name" bson:"plugin_name"`
	Name                        string       `json:"name" bson:"name"`
	Type                        TagType      `json:"type" bson:"type"`
	Data                        any          `json:"data" bson:"data"`
	AssociatedAdapters          []AdapterKey `json:"associated_adapters" bson:"associated_adapters"`
	AssociatedAdapterPluginName string       `json:"associated_adapter_plugin_name,omitempty" bson:"associated_adapter_plugin_name,omitempty"`
	AccurateForDatetime         time.Time    `json:"accurate_for_datetime" bson:"accurate_for_datetime"`
}

func (t Tag) Identity() TagIdentity {
	return TagIdentity{PluginUniqueName: t.PluginUniqueName, Name: t.Name, Type: t.Type}
}

func (t Tag) IsAssociatedWith(key AdapterKey) bool {
	for _, k := range t.AssociatedAdapters {
		if k == key {
			return true
		}
	}
	return false
}

// Enabled reports whether a label tag is switched on. Zero numbers and empty strings, maps and lists
// count as off.
func (t Tag) Enabled() bool {
	switch v := t.Data.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	}

	rv := reflect.ValueOf(t.Data)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

func (t Tag) Clone() Tag {
	c := t
	c.Data = CloneValue(t.Data)
	c.AssociatedAdapters = append([]AdapterKey(nil), t.AssociatedAdapters...)
	return c
}
