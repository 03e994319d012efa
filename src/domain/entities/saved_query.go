package entities

// SavedQuery é mantida pela GUI; o core só lê.
type SavedQuery struct {
	ID          string           `json:"id" bson:"_id"`
	Name        string           `json:"name" bson:"name"`
	EntityType  string           `json:"entity_type" bson:"entity_type"`
	Filter      string           `json:"filter" bson:"filter"`
	Expressions []map[string]any `json:"expressions,omitempty" bson:"expressions,omitempty"`
}

// ClientConnection is one configured adapter connection carrying a connection label.
type ClientConnection struct {
	Label            string `json:"label" bson:"label"`
	ClientID         string `json:"client_id" bson:"client_id"`
	PluginUniqueName string `json:"plugin_unique_name" bson:"plugin_unique_name"`
	PluginName       string `json:"plugin_name" bson:"plugin_name"`
}
