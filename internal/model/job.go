package model

// HostJob is one host's one artifact file. It is built by the coordinator and
// consumed by exactly one worker.
type HostJob struct {
	Hostname      string
	SourcePath    string
	OutputPath    string
	Kind          string
	SourceLogPath string
}

// ProcessingOutcome is produced once per completed HostJob.
type ProcessingOutcome struct {
	Hostname     string  `structs:"hostname"`
	SourcePath   string  `structs:"source_path"`
	OutputPath   string  `structs:"output_path"`
	TotalLines   int64   `structs:"total_lines"`
	SuccessCount int64   `structs:"success_count"`
	FailCount    int64   `structs:"fail_count"`
	SuccessRate  float64 `structs:"success_rate"`

	// Extra carries extension columns for the ledger.
	Extra map[string]string `structs:"-"`
}

// JobResult is what a worker hands back to the coordinator: either an
// outcome or the cause of the job's failure.
type JobResult struct {
	Job     HostJob
	Outcome *ProcessingOutcome
	Err     error
}

// CatalogRecord is one row of the evidence catalog.
type CatalogRecord struct {
	Hostname      string
	SourceLogPath string
	SourceRoot    string
}
