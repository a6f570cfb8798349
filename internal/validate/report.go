package validate

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/jszwec/csvutil"

	"github.com/wegman-software/navcompile-go/internal/diag"
	"github.com/wegman-software/navcompile-go/internal/store"
)

// Check names
const (
	CheckDanglingEdge      = "dangling_edge"
	CheckDanglingFixLink   = "dangling_fix_link"
	CheckUnlinkedFix       = "unlinked_procedure_fix"
	CheckExactDuplicate    = "exact_duplicate"
	CheckCoordinateDup     = "coordinate_duplicate"
	CheckEmptyTable        = "empty_table"
	CheckAiracCycleMissing = "airac_cycle_missing"
)

// Finding is one validation result row
type Finding struct {
	Check      string `csv:"check"`
	Severity   string `csv:"severity"`
	Table      string `csv:"table"`
	RowID      int64  `csv:"row_id"`
	OtherRowID int64  `csv:"other_row_id,omitempty"`
	Message    string `csv:"message"`
}

// Key identifies a finding across runs for baseline comparison
func (f Finding) Key() string {
	return fmt.Sprintf("%s|%s|%s", f.Check, f.Table, f.Message)
}

// Report is the outcome of a validation pass
type Report struct {
	Findings []Finding
	// Tables holds the row count of every data table
	Tables map[string]int64
}

func (r *Report) add(check string, sev diag.Severity, table string, row, other int64, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{
		Check:      check,
		Severity:   sev.String(),
		Table:      table,
		RowID:      row,
		OtherRowID: other,
		Message:    fmt.Sprintf(format, args...),
	})
}

// Fatal reports whether any referential check failed
func (r *Report) Fatal() bool {
	for _, f := range r.Findings {
		if f.Severity == diag.Fatal.String() {
			return true
		}
	}
	return false
}

// Count returns the number of findings per check
func (r *Report) Count() map[string]int {
	out := make(map[string]int)
	for _, f := range r.Findings {
		out[f.Check]++
	}
	return out
}

// Diagnostics records every finding in ledger
func (r *Report) Diagnostics(ledger *diag.Ledger) {
	for _, f := range r.Findings {
		sev := diag.Warning
		switch f.Severity {
		case diag.Fatal.String():
			sev = diag.Fatal
		case diag.Info.String():
			sev = diag.Info
		}
		ledger.Add(diag.Diagnostic{
			Severity: sev,
			Category: diag.Finding,
			Message:  fmt.Sprintf("%s %s#%d: %s", f.Check, f.Table, f.RowID, f.Message),
		})
	}
}

// Save replaces the validation_finding rows with this report
func (r *Report) Save(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+store.TableValidationFinding); err != nil {
		return fmt.Errorf("clear findings: %w", err)
	}
	for _, f := range r.Findings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO validation_finding (check_name, severity, table_name, row_id, other_row_id, message)
			VALUES (?, ?, ?, ?, ?, ?)`,
			f.Check, f.Severity, f.Table, f.RowID, f.OtherRowID, f.Message); err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}
	return tx.Commit()
}

// WriteCSV writes the findings as CSV with a header row
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if len(r.Findings) == 0 {
		if err := enc.EncodeHeader(Finding{}); err != nil {
			return err
		}
	} else if err := enc.Encode(r.Findings); err != nil {
		return fmt.Errorf("failed to encode findings: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads findings written by WriteCSV
func ReadCSV(r io.Reader) ([]Finding, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV decoder for findings: %w", err)
	}
	var findings []Finding
	if err := dec.Decode(&findings); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode findings CSV: %w", err)
	}
	return findings, nil
}

// NewSince returns the findings not present in baseline
func (r *Report) NewSince(baseline []Finding) []Finding {
	seen := make(map[string]bool, len(baseline))
	for _, f := range baseline {
		seen[f.Key()] = true
	}
	var out []Finding
	for _, f := range r.Findings {
		if !seen[f.Key()] {
			out = append(out, f)
		}
	}
	return out
}

// sortFindings orders findings by check, table and row for stable output
func sortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Check != fs[j].Check {
			return fs[i].Check < fs[j].Check
		}
		if fs[i].Table != fs[j].Table {
			return fs[i].Table < fs[j].Table
		}
		return fs[i].RowID < fs[j].RowID
	})
}
