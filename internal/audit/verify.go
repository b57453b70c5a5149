package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jvs-project/goldgate/internal/integrity"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/model"
)

// Problem describes one broken link in the ledger.
type Problem struct {
	Line    int    `json:"line"`
	Seq     uint64 `json:"seq,omitempty"`
	Message string `json:"message"`
}

// VerifyReport summarizes a full ledger check.
type VerifyReport struct {
	Entries  int             `json:"entries"`
	LastSeq  uint64          `json:"last_seq"`
	LastHash model.HashValue `json:"last_hash,omitempty"`
	Problems []Problem       `json:"problems,omitempty"`
}

// OK reports whether no problems were found.
func (r *VerifyReport) OK() bool {
	return len(r.Problems) == 0
}

// Verify checks that sequence numbers are contiguous from 1, that every
// prev_hash links to the preceding record_hash, and that every record_hash
// matches its content. A damaged ledger yields E_LEDGER_CHAIN_BROKEN along
// with the full report.
func (l *Ledger) Verify(ctx context.Context) (*VerifyReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	report := &VerifyReport{}

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	var prev model.LedgerEntry
	err = scanLines(file, func(lineNo int, raw []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var entry model.LedgerEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			report.Problems = append(report.Problems, Problem{Line: lineNo, Message: "malformed entry: " + err.Error()})
			return nil
		}
		report.Entries++

		if entry.Seq != prev.Seq+1 {
			report.Problems = append(report.Problems, Problem{
				Line: lineNo, Seq: entry.Seq,
				Message: fmt.Sprintf("sequence gap: expected %d, got %d", prev.Seq+1, entry.Seq),
			})
		}
		if entry.PrevHash != prev.RecordHash {
			report.Problems = append(report.Problems, Problem{
				Line: lineNo, Seq: entry.Seq,
				Message: fmt.Sprintf("prev_hash %s does not match previous record %s", entry.PrevHash.Short(), prev.RecordHash.Short()),
			})
		}
		want, err := integrity.ComputeRecordHash(&entry)
		if err != nil {
			return err
		}
		if want != entry.RecordHash {
			report.Problems = append(report.Problems, Problem{
				Line: lineNo, Seq: entry.Seq,
				Message: fmt.Sprintf("record_hash mismatch: stored %s, computed %s", entry.RecordHash.Short(), want.Short()),
			})
		}

		prev = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}

	report.LastSeq = prev.Seq
	report.LastHash = prev.RecordHash
	if !report.OK() {
		return report, errclass.ErrLedgerChainBroken.WithMessagef("%d problem(s) found in %s", len(report.Problems), l.path)
	}
	return report, nil
}
