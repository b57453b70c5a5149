package policy

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jvs-project/goldgate/pkg/model"
)

// Matches reports whether rel (a normalized, slash-separated path) matches
// the rule pattern. Patterns without a slash also match the base name, so
// ".env" covers "config/.env".
func Matches(pattern, rel string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		if ok, _ := doublestar.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	return false
}

// FirstMatch returns the first rule in declaration order that applies to
// tool and matches rel.
func FirstMatch(rules []model.PolicyRule, tool, rel string) (model.PolicyRule, bool) {
	for _, r := range rules {
		if !r.AppliesToTool(tool) {
			continue
		}
		if Matches(r.Pattern, rel) {
			return r, true
		}
	}
	return model.PolicyRule{}, false
}
