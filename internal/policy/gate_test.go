package policy_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jvs-project/goldgate/internal/policy"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockScanner struct {
	mock.Mock
}

func (m *mockScanner) Scan(ctx context.Context, path string) ([]model.Finding, error) {
	args := m.Called(ctx, path)
	findings, _ := args.Get(0).([]model.Finding)
	return findings, args.Error(1)
}

var leakedKey = []model.Finding{{RuleID: "aws-access-key", Description: "AWS Access Key", File: "src/app.js", Line: 3}}

func inv(path string, phase model.Phase) model.ToolInvocation {
	return model.ToolInvocation{Tool: "Edit", Path: path, Phase: phase}
}

func defaultGate(s *mockScanner) *policy.Gate {
	return policy.NewGate(policy.DefaultRules("tests/golden"), s)
}

func TestEvaluate_PreBlocksEnv(t *testing.T) {
	s := &mockScanner{}
	d := defaultGate(s).Evaluate(context.Background(), inv(".env", model.PhasePre))

	assert.Equal(t, model.VerdictBlock, d.Verdict)
	assert.Equal(t, 2, d.Verdict.ExitCode())
	assert.Equal(t, "protect-env", d.RuleID)
	assert.Contains(t, d.Reason, `".env"`)
	s.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
}

func TestEvaluate_PreBlockIndependentOfScanner(t *testing.T) {
	for _, scanErr := range []error{nil, errclass.ErrScannerUnavailable} {
		s := &mockScanner{}
		s.On("Scan", mock.Anything, mock.Anything).Return(leakedKey, scanErr).Maybe()

		d := defaultGate(s).Evaluate(context.Background(), inv("config/.env", model.PhasePre))
		assert.Equal(t, model.VerdictBlock, d.Verdict)
	}
}

func TestEvaluate_PreAllowsUnmatched(t *testing.T) {
	s := &mockScanner{}
	d := defaultGate(s).Evaluate(context.Background(), inv("src/app.js", model.PhasePre))

	assert.Equal(t, model.VerdictAllow, d.Verdict)
	assert.Equal(t, 0, d.Verdict.ExitCode())
	s.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
}

func TestEvaluate_PreBlocksGoldenRootWithRemediation(t *testing.T) {
	d := defaultGate(&mockScanner{}).Evaluate(context.Background(), inv("tests/golden/test_x.py", model.PhasePre))

	assert.Equal(t, model.VerdictBlock, d.Verdict)
	assert.Equal(t, "protect-golden", d.RuleID)
	assert.Contains(t, d.Reason, policy.RemediationGolden)
}

func TestEvaluate_PostWarnsOnFinding(t *testing.T) {
	s := &mockScanner{}
	s.On("Scan", mock.Anything, "src/app.js").Return(leakedKey, nil).Once()

	d := defaultGate(s).Evaluate(context.Background(), inv("src/app.js", model.PhasePost))

	assert.Equal(t, model.VerdictWarn, d.Verdict)
	assert.Equal(t, 1, d.Verdict.ExitCode())
	assert.Equal(t, leakedKey, d.Findings)
	assert.Contains(t, d.Reason, "src/app.js:3")
	s.AssertExpectations(t)
}

func TestEvaluate_PostAllowsClean(t *testing.T) {
	s := &mockScanner{}
	s.On("Scan", mock.Anything, "src/app.js").Return(nil, nil).Once()

	d := defaultGate(s).Evaluate(context.Background(), inv("src/app.js", model.PhasePost))
	assert.Equal(t, model.VerdictAllow, d.Verdict)
	assert.Empty(t, d.Notes)
}

func TestEvaluate_PostScannerUnavailableDegradesToAllow(t *testing.T) {
	s := &mockScanner{}
	s.On("Scan", mock.Anything, mock.Anything).Return(nil, errclass.ErrScannerUnavailable.WithMessage("gitleaks not installed"))

	d := defaultGate(s).Evaluate(context.Background(), inv("src/app.js", model.PhasePost))
	assert.Equal(t, model.VerdictAllow, d.Verdict)
	assert.True(t, d.HasNote(model.NoteScannerUnavailable))
}

func TestEvaluate_NilScannerIsUnavailable(t *testing.T) {
	g := policy.NewGate(policy.DefaultRules("tests/golden"), nil)
	d := g.Evaluate(context.Background(), inv("src/app.js", model.PhasePost))
	assert.Equal(t, model.VerdictAllow, d.Verdict)
	assert.True(t, d.HasNote(model.NoteScannerUnavailable))
}

func TestEvaluate_PostRuleMatchNeverBlocks(t *testing.T) {
	s := &mockScanner{}
	s.On("Scan", mock.Anything, ".env").Return(leakedKey, nil).Once()

	d := defaultGate(s).Evaluate(context.Background(), inv(".env", model.PhasePost))
	assert.Equal(t, model.VerdictWarn, d.Verdict)
	assert.Equal(t, "protect-env", d.RuleID)
	assert.Equal(t, leakedKey, d.Findings)
	s.AssertExpectations(t)
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	rules := []model.PolicyRule{
		{ID: "first", Pattern: "secrets/**", Verdict: model.VerdictBlock, Message: "first"},
		{ID: "second", Pattern: "*.pem", Verdict: model.VerdictBlock, Message: "second"},
	}
	d := policy.NewGate(rules, nil).Evaluate(context.Background(), inv("secrets/server.pem", model.PhasePre))
	assert.Equal(t, "first", d.RuleID)
}

func TestEvaluate_ToolScopedRule(t *testing.T) {
	rules := []model.PolicyRule{
		{ID: "no-bash-writes", Pattern: "scripts/**", Verdict: model.VerdictBlock, Message: "m", Tools: []string{"Bash"}},
	}
	g := policy.NewGate(rules, nil)
	assert.Equal(t, model.VerdictAllow, g.Evaluate(context.Background(), inv("scripts/run.sh", model.PhasePre)).Verdict)

	bash := model.ToolInvocation{Tool: "Bash", Path: "scripts/run.sh", Phase: model.PhasePre}
	assert.Equal(t, model.VerdictBlock, g.Evaluate(context.Background(), bash).Verdict)
}

func TestEvaluate_AbsolutePathRelativeToRoot(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "work", "repo")
	g := policy.NewGate(policy.DefaultRules("tests/golden"), nil, policy.WithRoot(root))

	d := g.Evaluate(context.Background(), inv(filepath.Join(root, "tests", "golden", "test_a.py"), model.PhasePre))
	assert.Equal(t, model.VerdictBlock, d.Verdict)
	assert.Equal(t, "protect-golden", d.RuleID)
}

func TestEvaluate_Deterministic(t *testing.T) {
	g := defaultGate(&mockScanner{})
	a := g.Evaluate(context.Background(), inv("keys/server.pem", model.PhasePre))
	b := g.Evaluate(context.Background(), inv("keys/server.pem", model.PhasePre))
	assert.Equal(t, a, b)
}
