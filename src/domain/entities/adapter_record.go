package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

// AdapterKey identifica um AdapterRecord dentro da instância do plugin que o produziu.
type AdapterKey struct {
	PluginUniqueName string `json:"plugin_unique_name" bson:"plugin_unique_name"`
	ID               string `json:"id" bson:"id"`
}

// String is the lock/registry key for the record.
func (k AdapterKey) String() string {
	return k.PluginUniqueName + "/" + k.ID
}

// UnmarshalJSON accepts the object form and the ["plugin_unique_name", "id"] pair form used by plugins.
func (k *AdapterKey) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("adapter key pair must have 2 elements, got %d", len(pair))
		}
		k.PluginUniqueName, k.ID = pair[0], pair[1]
		return nil
	}

	type plain AdapterKey
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*k = AdapterKey(p)
	return nil
}

// AdapterRecord é a contribuição de um adapter descrevendo um device/user do mundo real.
// Os campos tipados são os que o core usa; o resto do payload vive em Data e Raw.
type AdapterRecord struct {
	PluginUniqueName    string         `json:"plugin_unique_name" bson:"plugin_unique_name"`
	PluginName          string         `json:"plugin_name" bson:"plugin_name"`
	ID                  string         `json:"id" bson:"id"`
	ClientUsed          string         `json:"client_used,omitempty" bson:"client_used,omitempty"`
	AccurateForDatetime time.Time      `json:"accurate_for_datetime" bson:"accurate_for_datetime"`
	LastSeen            *time.Time     `json:"last_seen,omitempty" bson:"last_seen,omitempty"`
	PendingDelete       bool           `json:"pending_delete,omitempty" bson:"pending_delete,omitempty"`
	Old                 bool           `json:"_old,omitempty" bson:"_old,omitempty"`
	Data                map[string]any `json:"data,omitempty" bson:"data,omitempty"`
	Raw                 map[string]any `json:"raw,omitempty" bson:"raw,omitempty"`
}

func (r AdapterRecord) Key() AdapterKey {
	return AdapterKey{PluginUniqueName: r.PluginUniqueName, ID: r.ID}
}

func (r AdapterRecord) Clone() AdapterRecord {
	c := r
	if r.LastSeen != nil {
		lastSeen := *r.LastSeen
		c.LastSeen = &lastSeen
	}
	c.Data = CloneMap(r.Data)
	c.Raw = CloneMap(r.Raw)
	return c
}

// CloneMap copia recursivamente mapas e slices genéricos; escalares são compartilhados.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = CloneMap(item)
		}
		return out
	default:
		return v
	}
}
