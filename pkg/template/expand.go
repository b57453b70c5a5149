// Package template expands {placeholder} tokens in configured command lines.
package template

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Expand expands template placeholders in the input string.
//
// Supported placeholders:
//
//	{date}      - Current date in YYYY-MM-DD format
//	{iso8601}   - Current time in ISO 8601 format
//	{unix}      - Current Unix timestamp
//	{user}      - Current username
//	{hostname}  - System hostname
//	{arch}      - System architecture (e.g., amd64, arm64)
//
// Custom values can be provided via the vars map, which will override
// built-in placeholders. Unknown placeholders are left untouched.
func Expand(text string, vars map[string]string) string {
	if !strings.Contains(text, "{") {
		return text
	}
	now := time.Now()

	placeholders := map[string]string{
		"date":    now.Format("2006-01-02"),
		"iso8601": now.Format(time.RFC3339),
		"unix":    fmt.Sprintf("%d", now.Unix()),
		"arch":    runtime.GOARCH,
	}

	if u, err := user.Current(); err == nil {
		placeholders["user"] = u.Username
	} else {
		placeholders["user"] = "unknown"
	}

	if h, err := os.Hostname(); err == nil {
		placeholders["hostname"] = strings.Split(h, ".")[0]
	} else {
		placeholders["hostname"] = "unknown"
	}

	for k, v := range vars {
		placeholders[k] = v
	}

	// Single pass so a substituted value is never expanded again.
	keys := make([]string, 0, len(placeholders))
	for k := range placeholders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", placeholders[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// ExpandArgs expands every element of an argv slice.
func ExpandArgs(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = Expand(a, vars)
	}
	return out
}

// PathVars returns the {path}, {dir}, {name} and {stem} values for p.
func PathVars(p string) map[string]string {
	name := filepath.Base(p)
	return map[string]string{
		"path": p,
		"dir":  filepath.Dir(p),
		"name": name,
		"stem": strings.TrimSuffix(name, filepath.Ext(name)),
	}
}
