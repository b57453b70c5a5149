package policy_test

import (
	"errors"
	"path"
	"testing"

	"github.com/jvs-project/goldgate/internal/policy"
	"github.com/jvs-project/goldgate/pkg/errclass"
)

// Run with: go test -fuzz=FuzzMatches -fuzztime=30s ./internal/policy/

func FuzzMatches(f *testing.F) {
	f.Add(".env", "config/.env")
	f.Add("*.pem", "keys/server.pem")
	f.Add("tests/golden/**", "tests/golden/a/b.py")
	f.Add("[", "x")
	f.Add("{a,b", "a")
	f.Add("**/**/**", "")
	f.Add("id_rsa*", "home/.ssh/id_rsa.pub")

	f.Fuzz(func(t *testing.T, pattern, rel string) {
		got := policy.Matches(pattern, rel)
		if got != policy.Matches(pattern, rel) {
			t.Errorf("inconsistent match for %q against %q", pattern, rel)
		}
	})
}

func FuzzMatchesBaseName(f *testing.F) {
	f.Add("src")
	f.Add("a/b/c")
	f.Add("")

	f.Fuzz(func(t *testing.T, dir string) {
		rel := path.Join(dir, ".env")
		if path.Base(rel) != ".env" {
			return
		}
		if !policy.Matches(".env", rel) {
			t.Errorf(".env pattern did not match %q", rel)
		}
	})
}

func FuzzParseRules(f *testing.F) {
	f.Add([]byte("version: 1\nrules:\n  - id: env\n    pattern: .env\n    message: no\n"))
	f.Add([]byte(""))
	f.Add([]byte("rules: [{id: a, pattern: '['}]"))
	f.Add([]byte("version: 1\nrules:\n  - id: a\n    pattern: x\n  - id: a\n    pattern: y\n"))
	f.Add([]byte("\x00\xff"))

	f.Fuzz(func(t *testing.T, data []byte) {
		rules, err := policy.ParseRules(data)
		if err != nil {
			if !errors.Is(err, errclass.ErrConfiguration) {
				t.Errorf("parse error is not E_CONFIGURATION: %v", err)
			}
			return
		}
		if err := policy.ValidateRules(rules); err != nil {
			t.Errorf("parsed rules fail validation: %v", err)
		}
	})
}
