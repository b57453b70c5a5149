package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/fsutil"
	"github.com/jvs-project/goldgate/pkg/model"
	"github.com/jvs-project/goldgate/pkg/pathutil"
)

// RulesVersion is the schema version written by WriteRules.
const RulesVersion = 1

// RemediationGolden is appended to messages for writes into the golden root.
const RemediationGolden = "re-submit through the generated-tests workflow"

// RuleFile is the on-disk shape of .goldgate/rules.yaml.
type RuleFile struct {
	Version int                `yaml:"version"`
	Rules   []model.PolicyRule `yaml:"rules"`
}

// LoadRules reads and validates a rules file. Unknown keys, empty or invalid
// patterns, unknown verdicts and duplicate ids are all E_CONFIGURATION.
func LoadRules(filePath string) ([]model.PolicyRule, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errclass.ErrNotFound.WithMessagef("rules file %s not found", filePath)
		}
		return nil, errclass.ErrConfiguration.WithMessagef("read rules %s: %v", filePath, err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, errclass.ErrConfiguration.WithMessagef("%s: %s", filePath, strings.TrimPrefix(err.Error(), errclass.ErrConfiguration.Code+": "))
	}
	return rules, nil
}

// LoadOrDefault loads filePath, falling back to DefaultRules when the file
// does not exist. source names where the rules came from.
func LoadOrDefault(filePath, goldenRoot string) (rules []model.PolicyRule, source string, err error) {
	rules, err = LoadRules(filePath)
	if errors.Is(err, errclass.ErrNotFound) {
		return DefaultRules(goldenRoot), "built-in defaults", nil
	}
	if err != nil {
		return nil, "", err
	}
	return rules, filePath, nil
}

// ParseRules decodes rules YAML strictly.
func ParseRules(data []byte) ([]model.PolicyRule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var rf RuleFile
	if err := dec.Decode(&rf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errclass.ErrConfiguration.WithMessage("rules file is empty")
		}
		return nil, errclass.ErrConfiguration.WithMessagef("parse rules: %v", err)
	}
	if rf.Version > RulesVersion {
		return nil, errclass.ErrConfiguration.WithMessagef("rules version %d > supported %d", rf.Version, RulesVersion)
	}
	for i := range rf.Rules {
		if rf.Rules[i].Verdict == "" {
			rf.Rules[i].Verdict = model.VerdictBlock
		}
	}
	if err := ValidateRules(rf.Rules); err != nil {
		return nil, err
	}
	return rf.Rules, nil
}

// ValidateRules checks a rule set without touching the filesystem.
func ValidateRules(rules []model.PolicyRule) error {
	seen := make(map[string]int, len(rules))
	for i, r := range rules {
		where := fmt.Sprintf("rule %d", i+1)
		if r.ID != "" {
			where = fmt.Sprintf("rule %d (%s)", i+1, r.ID)
		}
		if strings.TrimSpace(r.ID) == "" {
			return errclass.ErrConfiguration.WithMessagef("%s: id is required", where)
		}
		if prev, dup := seen[r.ID]; dup {
			return errclass.ErrConfiguration.WithMessagef("%s: duplicate id, first defined as rule %d", where, prev)
		}
		seen[r.ID] = i + 1
		if strings.TrimSpace(r.Pattern) == "" {
			return errclass.ErrConfiguration.WithMessagef("%s: pattern is empty", where)
		}
		if !doublestar.ValidatePattern(r.Pattern) {
			return errclass.ErrConfiguration.WithMessagef("%s: invalid pattern %q", where, r.Pattern)
		}
		if r.Verdict != model.VerdictBlock {
			return errclass.ErrConfiguration.WithMessagef("%s: verdict must be %q, got %q", where, model.VerdictBlock, r.Verdict)
		}
		if strings.TrimSpace(r.Message) == "" {
			return errclass.ErrConfiguration.WithMessagef("%s: message is required", where)
		}
	}
	return nil
}

// DefaultRules protects secrets, VCS internals and the golden root.
func DefaultRules(goldenRoot string) []model.PolicyRule {
	golden := strings.TrimSuffix(pathutil.Normalize(goldenRoot), "/")
	return []model.PolicyRule{
		{ID: "protect-env", Pattern: ".env", Verdict: model.VerdictBlock,
			Message: "editing .env files is blocked; secrets belong in the secret store"},
		{ID: "protect-env-variants", Pattern: ".env.*", Verdict: model.VerdictBlock,
			Message: "editing .env.* files is blocked; secrets belong in the secret store"},
		{ID: "protect-pem", Pattern: "*.pem", Verdict: model.VerdictBlock,
			Message: "editing *.pem key material is blocked"},
		{ID: "protect-key", Pattern: "*.key", Verdict: model.VerdictBlock,
			Message: "editing *.key key material is blocked"},
		{ID: "protect-ssh-keys", Pattern: "id_rsa*", Verdict: model.VerdictBlock,
			Message: "editing SSH private keys is blocked"},
		{ID: "protect-git-dir", Pattern: ".git/**", Verdict: model.VerdictBlock,
			Message: "editing .git internals is blocked"},
		{ID: "protect-golden", Pattern: path.Join(golden, "**"), Verdict: model.VerdictBlock,
			Message: "golden tests are immutable; " + RemediationGolden},
	}
}

// WriteRules writes rules to filePath as YAML.
func WriteRules(filePath string, rules []model.PolicyRule) error {
	var buf bytes.Buffer
	buf.WriteString("# goldgate policy rules: evaluated in order, first match wins.\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(RuleFile{Version: RulesVersion, Rules: rules}); err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	return fsutil.AtomicWrite(filePath, buf.Bytes(), 0644)
}
