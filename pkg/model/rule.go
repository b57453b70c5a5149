package model

// PolicyRule blocks tool actions on paths matching Pattern.
type PolicyRule struct {
	ID      string   `yaml:"id" json:"id"`
	Pattern string   `yaml:"pattern" json:"pattern"`
	Verdict Verdict  `yaml:"verdict,omitempty" json:"verdict"`
	Message string   `yaml:"message" json:"message"`
	Tools   []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// AppliesToTool reports whether the rule is scoped to the given tool.
// A rule with no tools listed applies to every tool.
func (r PolicyRule) AppliesToTool(tool string) bool {
	if len(r.Tools) == 0 {
		return true
	}
	for _, t := range r.Tools {
		if t == "*" || t == tool {
			return true
		}
	}
	return false
}
