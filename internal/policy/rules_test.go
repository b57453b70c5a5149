package policy_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jvs-project/goldgate/internal/policy"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules_Valid(t *testing.T) {
	rules, err := policy.ParseRules([]byte(`
version: 1
rules:
  - id: protect-env
    pattern: ".env"
    message: "no env edits"
  - id: protect-prod
    pattern: "deploy/prod/**"
    verdict: block
    message: "prod config is reviewed by humans"
    tools: [Edit, Write]
`))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, model.VerdictBlock, rules[0].Verdict, "verdict defaults to block")
	assert.Equal(t, []string{"Edit", "Write"}, rules[1].Tools)
}

func TestParseRules_ConfigurationErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key":    "rules:\n  - id: a\n    pattern: x\n    message: m\n    severity: high\n",
		"empty pattern":  "rules:\n  - id: a\n    pattern: \"\"\n    message: m\n",
		"bad glob":       "rules:\n  - id: a\n    pattern: \"[unclosed\"\n    message: m\n",
		"bad verdict":    "rules:\n  - id: a\n    pattern: x\n    verdict: allow\n    message: m\n",
		"duplicate id":   "rules:\n  - id: a\n    pattern: x\n    message: m\n  - id: a\n    pattern: y\n    message: m\n",
		"missing id":     "rules:\n  - pattern: x\n    message: m\n",
		"missing msg":    "rules:\n  - id: a\n    pattern: x\n",
		"future version": "version: 9\nrules: []\n",
		"empty file":     "",
		"not yaml":       "rules: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := policy.ParseRules([]byte(doc))
			assert.ErrorIs(t, err, errclass.ErrConfiguration)
			assert.True(t, errclass.Fatal(err))
		})
	}
}

func TestLoadRules_Missing(t *testing.T) {
	_, err := policy.LoadRules(filepath.Join(t.TempDir(), "rules.yaml"))
	assert.ErrorIs(t, err, errclass.ErrNotFound)
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")

	rules, source, err := policy.LoadOrDefault(path, "tests/golden")
	require.NoError(t, err)
	assert.Equal(t, "built-in defaults", source)
	assert.Equal(t, policy.DefaultRules("tests/golden"), rules)

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: only\n    pattern: x\n    message: m\n"), 0644))
	rules, source, err = policy.LoadOrDefault(path, "tests/golden")
	require.NoError(t, err)
	assert.Equal(t, path, source)
	require.Len(t, rules, 1)

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: only\n    pattern: x\n"), 0644))
	_, _, err = policy.LoadOrDefault(path, "tests/golden")
	assert.ErrorIs(t, err, errclass.ErrConfiguration)
}

func TestWriteRules_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".goldgate", "rules.yaml")
	want := policy.DefaultRules("tests/golden")
	require.NoError(t, policy.WriteRules(path, want))

	got, err := policy.LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDefaultRules_Valid(t *testing.T) {
	assert.NoError(t, policy.ValidateRules(policy.DefaultRules("tests/golden/")))
	rules := policy.DefaultRules("./tests/golden/")
	assert.Equal(t, "tests/golden/**", rules[len(rules)-1].Pattern)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{".env", ".env", true},
		{".env", "config/.env", true},
		{".env", ".envrc", false},
		{".env.*", "app/.env.local", true},
		{"*.pem", "certs/server.pem", true},
		{"id_rsa*", "home/.ssh/id_rsa.pub", true},
		{".git/**", ".git/HEAD", true},
		{".git/**", "src/.git/HEAD", false},
		{"tests/golden/**", "tests/golden/a/test_x.py", true},
		{"tests/golden/**", "tests/generated/test_x.py", false},
		{"src/*.js", "src/app.js", true},
		{"src/*.js", "lib/src/app.js", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.Matches(tt.pattern, tt.path), "%s vs %s", tt.pattern, tt.path)
	}
}
