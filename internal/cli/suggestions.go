package cli

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jvs-project/goldgate/pkg/color"
)

const maxSuggestions = 3

// suggestGenerated offers close matches when a promotion source does not
// exist. query is the path the user typed; generatedRoot is absolute and
// displayRoot is how it is shown (the configured, repo-relative root).
func suggestGenerated(query, generatedRoot, displayRoot string) string {
	files, err := doublestar.Glob(os.DirFS(generatedRoot), "**", doublestar.WithFilesOnly())
	if err != nil || len(files) == 0 {
		return fmt.Sprintf("No generated tests found under %s.", displayRoot)
	}

	name := strings.ToLower(path.Base(strings.ReplaceAll(query, "\\", "/")))
	name = strings.TrimSuffix(name, path.Ext(name))

	var matches []string
	for _, f := range files {
		if strings.HasPrefix(strings.ToLower(path.Base(f)), name) {
			matches = append(matches, f)
		}
	}
	// If no prefix matches, try substring
	if len(matches) == 0 {
		for _, f := range files {
			if strings.Contains(strings.ToLower(f), name) {
				matches = append(matches, f)
			}
		}
	}
	if len(matches) == 0 {
		return fmt.Sprintf("Run %s to list generated tests.", color.Code("ls "+displayRoot))
	}
	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}

	shown := make([]string, 0, len(matches))
	for _, m := range matches {
		shown = append(shown, color.Success(path.Join(displayRoot, m)))
	}
	hint := "Did you mean"
	if len(shown) > 1 {
		hint += " one of"
	}
	return fmt.Sprintf("%s: %s?", hint, strings.Join(shown, ", "))
}

// formatSourceNotFoundError appends suggestions to a missing-source error.
func formatSourceNotFoundError(err error, query, generatedRoot, displayRoot string) error {
	return fmt.Errorf("%w\n%s", err, color.Dim("  "+suggestGenerated(query, generatedRoot, displayRoot)))
}
