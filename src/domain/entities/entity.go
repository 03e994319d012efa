package entities

import "time"

// Entity é a AxoniusEntity: o agrupamento de AdapterRecords que representam a mesma coisa.
type Entity struct {
	InternalAxonID      string          `json:"internal_axon_id" bson:"internal_axon_id"`
	Adapters            []AdapterRecord `json:"adapters" bson:"adapters"`
	Tags                []Tag           `json:"tags" bson:"tags"`
	AdapterCount        int             `json:"adapter_count" bson:"adapter_count"`
	AccurateForDatetime time.Time       `json:"accurate_for_datetime" bson:"accurate_for_datetime"`
	// Version cresce a cada escrita; o store só aceita update/delete sobre a versão que foi lida.
	Version             int64           `json:"version" bson:"version"`
}

func (e Entity) AdapterKeys() []AdapterKey {
	keys := make([]AdapterKey, len(e.Adapters))
	for i, a := range e.Adapters {
		keys[i] = a.Key()
	}
	return keys
}

func (e Entity) HasAdapter(key AdapterKey) bool {
	return e.AdapterIndex(key) >= 0
}

func (e Entity) AdapterIndex(key AdapterKey) int {
	for i, a := range e.Adapters {
		if a.Key() == key {
			return i
		}
	}
	return -1
}

// TagIndex retorna a posição da tag com a identidade dada, ou -1.
func (e Entity) TagIndex(id TagIdentity) int {
	for i, t := range e.Tags {
		if t.Identity() == id {
			return i
		}
	}
	return -1
}

// RecomputeAdapterCount must run every time Adapters changes.
func (e *Entity) RecomputeAdapterCount() {
	e.AdapterCount = CountAdapters(e.Adapters)
}

// CountAdapters counts distinct plugin names among records not pending deletion.
func CountAdapters(records []AdapterRecord) int {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.PendingDelete {
			continue
		}
		seen[r.PluginName] = struct{}{}
	}
	return len(seen)
}

func (e Entity) Clone() Entity {
	c := e
	c.Adapters = make([]AdapterRecord, len(e.Adapters))
	for i, a := range e.Adapters {
		c.Adapters[i] = a.Clone()
	}
	c.Tags = make([]Tag, len(e.Tags))
	for i, t := range e.Tags {
		c.Tags[i] = t.Clone()
	}
	return c
}
