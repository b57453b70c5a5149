package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/goldgate/pkg/color"
	"github.com/jvs-project/goldgate/pkg/errclass"
)

func TestSuggestGenerated(t *testing.T) {
	color.Disable()
	root := t.TempDir()
	for _, f := range []string{"test_refund.py", "test_refund_partial.py", "billing/test_invoice.py"} {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}

	t.Run("prefix matches", func(t *testing.T) {
		result := suggestGenerated("tests/generated/test_refnd.py", root, "tests/generated")
		assert.Contains(t, result, "Run")

		result = suggestGenerated("test_refund", root, "tests/generated")
		assert.Contains(t, result, "Did you mean one of")
		assert.Contains(t, result, "tests/generated/test_refund.py")
		assert.Contains(t, result, "tests/generated/test_refund_partial.py")
	})

	t.Run("substring matches nested files", func(t *testing.T) {
		result := suggestGenerated("invoice.py", root, "tests/generated")
		assert.Equal(t, "Did you mean: tests/generated/billing/test_invoice.py?", result)
	})

	t.Run("empty root", func(t *testing.T) {
		result := suggestGenerated("test_x.py", t.TempDir(), "tests/generated")
		assert.Contains(t, result, "No generated tests")
	})
}

func TestFormatSourceNotFoundError(t *testing.T) {
	color.Disable()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "test_x.py"), []byte("x"), 0644))

	err := formatSourceNotFoundError(errclass.ErrNotFound.WithMessage("missing"), "test_x", root, "gen")
	assert.ErrorIs(t, err, errclass.ErrNotFound)
	assert.Contains(t, err.Error(), "gen/test_x.py")
}
