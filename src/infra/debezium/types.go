package debezium

// CDCEvent representa o evento bruto do Debezium (payload, sem o envelope de schema).
type CDCEvent struct {
	Before      map[string]any `json:"before"`
	After       map[string]any `json:"after"`
	Source      CDCSource      `json:"source"`
	Operation   string         `json:"op"` // c=create, u=update, d=delete, r=read
	TsMs        int64          `json:"ts_ms"`
	Transaction any            `json:"transaction"`
}

type CDCSource struct {
	Version   string `json:"version"`
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	Snapshot  string `json:"snapshot"`
	DB        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	TxID      int64  `json:"txId"`
	LSN       int64  `json:"lsn"`
}

// Row devolve o estado mais recente da linha: after, ou before num delete.
func (e *CDCEvent) Row() map[string]any {
	if e.After != nil {
		return e.After
	}
	return e.Before
}
