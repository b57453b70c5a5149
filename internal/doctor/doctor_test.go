package doctor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jvs-project/goldgate/internal/audit"
	"github.com/jvs-project/goldgate/internal/doctor"
	"github.com/jvs-project/goldgate/internal/integrity"
	"github.com/jvs-project/goldgate/internal/lock"
	"github.com/jvs-project/goldgate/internal/policy"
	"github.com/jvs-project/goldgate/internal/repo"
	"github.com/jvs-project/goldgate/pkg/config"
	"github.com/jvs-project/goldgate/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Scanner.Binary = "sh"
	_, err := repo.Init(dir, cfg)
	require.NoError(t, err)
	require.NoError(t, policy.WriteRules(config.Resolve(dir, cfg.Paths.RulesFile), policy.DefaultRules(cfg.Paths.GoldenRoot)))
	t.Cleanup(func() {
		filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
			if err == nil && !info.IsDir() {
				os.Chmod(p, 0644)
			}
			return nil
		})
	})
	return dir, cfg
}

// addGolden writes a golden file and its promotion entry.
func addGolden(t *testing.T, dir string, cfg *config.Config, id, content string, perm os.FileMode) string {
	t.Helper()
	rel := cfg.Paths.GoldenRoot + "/" + id
	p := config.Resolve(dir, rel)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	require.NoError(t, os.Chmod(p, perm))

	ledger := audit.NewLedger(config.Resolve(dir, cfg.Paths.LedgerFile))
	_, err := ledger.Append(context.Background(), model.LedgerEntry{
		Actor:   "alice",
		Kind:    model.KindPromotion,
		Outcome: model.OutcomeGolden,
		Subject: id,
		Details: map[string]any{
			"artifact_id":  id,
			"golden_path":  rel,
			"content_hash": string(integrity.HashBytes([]byte(content))),
			"status":       "golden",
			"reviewer":     "alice",
		},
	})
	require.NoError(t, err)
	return p
}

func categories(r *doctor.Result) []string {
	var out []string
	for _, f := range r.Findings {
		out = append(out, f.Category)
	}
	return out
}

func TestDoctor_Check_Healthy(t *testing.T) {
	dir, cfg := setupTestRepo(t)
	addGolden(t, dir, cfg, "test_x.py", "x", 0444)

	result, err := doctor.NewDoctor(dir, cfg).Check(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Empty(t, result.Findings)
}

func TestDoctor_Check_MissingFormatVersion(t *testing.T) {
	dir, cfg := setupTestRepo(t)
	require.NoError(t, os.Remove(filepath.Join(dir, ".goldgate", "format_version")))

	result, err := doctor.NewDoctor(dir, cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.Contains(t, categories(result), "format")
}

func TestDoctor_Check_DefaultRulesAndMissingScanner(t *testing.T) {
	dir, cfg := setupTestRepo(t)
	require.NoError(t, os.Remove(config.Resolve(dir, cfg.Paths.RulesFile)))
	cfg.Scanner.Binary = "goldgate-no-such-scanner"

	result, err := doctor.NewDoctor(dir, cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.ElementsMatch(t, []string{"rules", "scanner"}, categories(result))
}

func TestDoctor_Check_InvalidRules(t *testing.T) {
	dir, cfg := setupTestRepo(t)
	require.NoError(t, os.WriteFile(config.Resolve(dir, cfg.Paths.RulesFile), []byte("version: 1\nrules:\n  - id: x\n    pattern: \"\"\n"), 0644))

	result, err := doctor.NewDoctor(dir, cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.Contains(t, categories(result), "rules")
}

func TestDoctor_Check_BrokenLedger(t *testing.T) {
	dir, cfg := setupTestRepo(t)
	addGolden(t, dir, cfg, "test_x.py", "x", 0444)
	f, err := os.OpenFile(config.Resolve(dir, cfg.Paths.LedgerFile), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":7,"kind":"gate_decision","prev_hash":"x","record_hash":"y"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	result, err := doctor.NewDoctor(dir, cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.Contains(t, categories(result), "ledger")
}

func TestDoctor_Check_WritableGoldenIsWarning(t *testing.T) {
	dir, cfg := setupTestRepo(t)
	p := addGolden(t, dir, cfg, "test_x.py", "x", 0644)

	result, err := doctor.NewDoctor(dir, cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "golden", result.Findings[0].Category)
	assert.Equal(t, "warning", result.Findings[0].Severity)

	// Doctor never corrects drift itself.
	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestDoctor_Check_MissingGolden(t *testing.T) {
	dir, cfg := setupTestRepo(t)
	p := addGolden(t, dir, cfg, "test_x.py", "x", 0644)
	require.NoError(t, os.Remove(p))

	result, err := doctor.NewDoctor(dir, cfg).Check(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.Equal(t, []string{"golden"}, categories(result))
}

func TestDoctor_Check_StrictDetectsContentChange(t *testing.T) {
	dir, cfg := setupTestRepo(t)
	p := addGolden(t, dir, cfg, "test_x.py", "original", 0444)
	require.NoError(t, os.Chmod(p, 0644))
	require.NoError(t, os.WriteFile(p, []byte("tampered"), 0644))
	require.NoError(t, os.Chmod(p, 0444))

	result, err := doctor.NewDoctor(dir, cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)

	result, err = doctor.NewDoctor(dir, cfg).Check(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.Contains(t, categories(result), "integrity")
}

func TestDoctor_Check_ExpiredLock(t *testing.T) {
	dir, cfg := setupTestRepo(t)
	mgr := lock.NewManager(filepath.Join(dir, ".goldgate", "locks"), model.LockPolicy{LeaseTTL: time.Millisecond, Mode: model.LockModeFail})
	_, err := mgr.Acquire(context.Background(), "test_x.py", "promote")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	result, err := doctor.NewDoctor(dir, cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Equal(t, []string{"lock"}, categories(result))
}

func TestDoctor_Check_OrphanTmp(t *testing.T) {
	dir, cfg := setupTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".goldgate", ".goldgate-tmp-123"), []byte("x"), 0644))

	result, err := doctor.NewDoctor(dir, cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Equal(t, []string{"tmp"}, categories(result))
}
