package service

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"artifact-ingest/config"
	"artifact-ingest/internal/dto"
	"artifact-ingest/internal/ledger"
	"artifact-ingest/internal/parser"
)

var ErrUnknownKind = errors.New("unknown artifact kind")

type LedgerQueryService interface {
	Rows(ctx context.Context, kind string) (*dto.LedgerRowsResponse, error)
	Summary(ctx context.Context, kind string) (*dto.LedgerSummary, error)
}

type ledgerQueryService struct {
	cfg   *config.Config
	fs    afero.Fs
	kinds *parser.Registry
}

func NewLedgerQueryService(cfg *config.Config, fs afero.Fs, kinds *parser.Registry) LedgerQueryService {
	return &ledgerQueryService{
		cfg:   cfg,
		fs:    fs,
		kinds: kinds,
	}
}

// load never fails on a corrupt ledger; it reports it as empty and flags it.
func (s *ledgerQueryService) load(name string) (*ledger.Ledger, bool, error) {
	kind, ok := s.kinds.Lookup(name)
	if !ok {
		return nil, false, ErrUnknownKind
	}
	l, err := ledger.Load(s.fs, filepath.Join(s.cfg.Ledger.Dir, kind.LedgerFile))
	if err != nil {
		if errors.Is(err, ledger.ErrCorrupt) {
			log.Warn().Err(err).Str("kind", name).Msg("Ledger is corrupt, reporting it as empty")
			return l, true, nil
		}
		return nil, false, err
	}
	return l, false, nil
}

func (s *ledgerQueryService) Rows(ctx context.Context, kind string) (*dto.LedgerRowsResponse, error) {
	l, corrupt, err := s.load(kind)
	if err != nil {
		return nil, err
	}
	columns := l.Columns()
	resp := &dto.LedgerRowsResponse{
		Kind:    kind,
		Path:    l.Path(),
		Columns: columns,
		Rows:    make([]map[string]string, 0, l.Len()),
		Corrupt: corrupt,
	}
	for _, row := range l.Rows() {
		m := make(map[string]string, len(columns))
		for _, col := range columns {
			m[col] = row.Get(col)
		}
		resp.Rows = append(resp.Rows, m)
	}
	return resp, nil
}

func (s *ledgerQueryService) Summary(ctx context.Context, kind string) (*dto.LedgerSummary, error) {
	l, corrupt, err := s.load(kind)
	if err != nil {
		return nil, err
	}
	summary := &dto.LedgerSummary{
		Kind:    kind,
		Path:    l.Path(),
		Rows:    l.Len(),
		Corrupt: corrupt,
	}
	hosts := make(map[string]struct{})
	for _, row := range l.Rows() {
		hosts[row.Hostname] = struct{}{}
		summary.TotalLines += parseCount(row, "total_lines")
		summary.SuccessCount += parseCount(row, "success_count")
		summary.FailCount += parseCount(row, "fail_count")
	}
	summary.Hosts = len(hosts)
	summary.SuccessRate = SuccessRate(summary.SuccessCount, summary.TotalLines)
	return summary, nil
}

func parseCount(row ledger.Row, column string) int64 {
	v := row.Get(column)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Warn().Str("hostname", row.Hostname).Str("column", column).Str("value", v).Msg("Ignoring non-numeric ledger value")
		return 0
	}
	return n
}
