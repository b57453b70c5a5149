// Package integrity computes content hashes for artifacts and ledger records.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/jvs-project/goldgate/pkg/jsonutil"
	"github.com/jvs-project/goldgate/pkg/model"
)

// HashBytes returns the SHA-256 of data.
func HashBytes(data []byte) model.HashValue {
	sum := sha256.Sum256(data)
	return model.HashValue(hex.EncodeToString(sum[:]))
}

// HashFile streams path through SHA-256.
func HashFile(path string) (model.HashValue, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return model.HashValue(hex.EncodeToString(h.Sum(nil))), nil
}

// ComputeRecordHash hashes a ledger entry over its canonical JSON form.
// Excludes: record_hash
func ComputeRecordHash(entry *model.LedgerEntry) (model.HashValue, error) {
	hashEntry := *entry
	hashEntry.RecordHash = ""

	digest, err := jsonutil.Digest(&hashEntry)
	if err != nil {
		return "", fmt.Errorf("canonical marshal ledger entry: %w", err)
	}
	return model.HashValue(digest), nil
}
