package promotion

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jvs-project/goldgate/pkg/model"
)

// State is the replayed view of one artifact.
type State struct {
	ArtifactID string
	// Status is the outcome of the latest promotion attempt.
	Status model.ArtifactStatus
	// Golden is the latest golden record. A rejected overwrite attempt
	// does not clear it: the previous golden content is still in place.
	Golden     *model.PromotionRecord
	GoldenSeq  uint64
	GoldenHash model.HashValue
	Last       *model.PromotionRecord
	Attempts   int
}

// IsGolden reports whether the artifact currently has a golden version.
func (s *State) IsGolden() bool {
	return s != nil && s.Golden != nil
}

// ReplayState folds promotion entries into per-artifact state.
// Entries of other kinds and undecodable details are ignored.
func ReplayState(entries []model.LedgerEntry) map[string]*State {
	states := make(map[string]*State)
	for _, e := range entries {
		if e.Kind != model.KindPromotion {
			continue
		}
		rec, err := RecordFromEntry(e)
		if err != nil {
			continue
		}
		st, ok := states[rec.ArtifactID]
		if !ok {
			st = &State{ArtifactID: rec.ArtifactID}
			states[rec.ArtifactID] = st
		}
		st.Attempts++
		st.Status = rec.Status
		st.Last = rec
		if rec.Status == model.StatusGolden {
			st.Golden = rec
			st.GoldenSeq = e.Seq
			st.GoldenHash = e.RecordHash
		}
	}
	return states
}

// GoldenSet returns every artifact with a golden version, sorted by ID.
func GoldenSet(entries []model.LedgerEntry) []model.TestArtifact {
	states := ReplayState(entries)
	out := make([]model.TestArtifact, 0, len(states))
	for _, st := range states {
		if !st.IsGolden() {
			continue
		}
		out = append(out, model.TestArtifact{
			ID:          st.ArtifactID,
			SourcePath:  st.Golden.SourcePath,
			GoldenPath:  st.Golden.GoldenPath,
			ContentHash: st.Golden.ContentHash,
			Status:      model.StatusGolden,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecordFromEntry decodes the PromotionRecord carried in a promotion entry.
func RecordFromEntry(e model.LedgerEntry) (*model.PromotionRecord, error) {
	if e.Kind != model.KindPromotion {
		return nil, fmt.Errorf("entry %d is %s, not a promotion", e.Seq, e.Kind)
	}
	data, err := json.Marshal(e.Details)
	if err != nil {
		return nil, fmt.Errorf("encode details of entry %d: %w", e.Seq, err)
	}
	var rec model.PromotionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode promotion record of entry %d: %w", e.Seq, err)
	}
	if rec.ArtifactID == "" {
		return nil, fmt.Errorf("entry %d: promotion record has no artifact id", e.Seq)
	}
	if !rec.Status.IsTerminal() {
		return nil, fmt.Errorf("entry %d: promotion record has non-terminal status %q", e.Seq, rec.Status)
	}
	return &rec, nil
}

func recordDetails(rec *model.PromotionRecord) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var details map[string]any
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, err
	}
	return details, nil
}
