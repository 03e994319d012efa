package entities

import "time"

const (
	SpecificDataTypeEntity      = "entitydata"
	SpecificDataTypeAdapterData = string(TagTypeAdapterData)
)

// SpecificDataEntry is one element of a view's specific_data: an adapter record or an adapterdata tag.
type SpecificDataEntry struct {
	PluginName                  string         `json:"plugin_name" bson:"plugin_name"`
	PluginUniqueName            string         `json:"plugin_unique_name" bson:"plugin_unique_name"`
	Type                        string         `json:"type" bson:"type"`
	Name                        string         `json:"name,omitempty" bson:"name,omitempty"`
	ClientUsed                  string         `json:"client_used,omitempty" bson:"client_used,omitempty"`
	AssociatedAdapterPluginName string         `json:"associated_adapter_plugin_name,omitempty" bson:"associated_adapter_plugin_name,omitempty"`
	AccurateForDatetime         time.Time      `json:"accurate_for_datetime" bson:"accurate_for_datetime"`
	Data                        map[string]any `json:"data" bson:"data"`
}

type GenericDataEntry struct {
	PluginName          string    `json:"plugin_name" bson:"plugin_name"`
	PluginUniqueName    string    `json:"plugin_unique_name" bson:"plugin_unique_name"`
	Name                string    `json:"name" bson:"name"`
	Type                string    `json:"type" bson:"type"`
	Data                any       `json:"data" bson:"data"`
	AccurateForDatetime time.Time `json:"accurate_for_datetime" bson:"accurate_for_datetime"`
}

// View é a projeção achatada de uma Entity, sempre recalculada por inteiro.
type View struct {
	InternalAxonID      string                    `json:"internal_axon_id" bson:"internal_axon_id"`
	AccurateForDatetime time.Time                 `json:"accurate_for_datetime" bson:"accurate_for_datetime"`
	SpecificData        []SpecificDataEntry       `json:"specific_data" bson:"specific_data"`
	GenericData         []GenericDataEntry        `json:"generic_data" bson:"generic_data"`
	Adapters            []string                  `json:"adapters" bson:"adapters"`
	UniqueAdapterNames  []string                  `json:"unique_adapter_names" bson:"unique_adapter_names"`
	Labels              []string                  `json:"labels" bson:"labels"`
	AdaptersData        map[string]map[string]any `json:"adapters_data" bson:"adapters_data"`
}

// HistoricalView is an append-only copy of a View taken at most once per day.
type HistoricalView struct {
	View        `bson:",inline"`
	ShortAxonID string `json:"short_axon_id" bson:"short_axon_id"`
}
