package dto

// LedgerRowsResponse lists every ledger row of one artifact kind. Each row
// maps column name to the value as written.
type LedgerRowsResponse struct {
	Kind    string              `json:"kind" yaml:"kind"`
	Path    string              `json:"path" yaml:"path"`
	Columns []string            `json:"columns" yaml:"columns"`
	Rows    []map[string]string `json:"rows" yaml:"rows"`
	Corrupt bool                `json:"corrupt,omitempty" yaml:"corrupt,omitempty"`
}

type LedgerSummary struct {
	Kind         string  `json:"kind" yaml:"kind"`
	Path         string  `json:"path" yaml:"path"`
	Hosts        int     `json:"hosts" yaml:"hosts"`
	Rows         int     `json:"rows" yaml:"rows"`
	TotalLines   int64   `json:"totalLines" yaml:"total_lines"`
	SuccessCount int64   `json:"successCount" yaml:"success_count"`
	FailCount    int64   `json:"failCount" yaml:"fail_count"`
	SuccessRate  float64 `json:"successRate" yaml:"success_rate"`
	Corrupt      bool    `json:"corrupt,omitempty" yaml:"corrupt,omitempty"`
}
