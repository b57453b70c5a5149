package jsonutil

import (
	"bytes"
	"encoding/json"
	"testing"
)

// Run with: go test -fuzz=FuzzCanonicalMarshal -fuzztime=30s ./pkg/jsonutil/

func FuzzCanonicalMarshal(f *testing.F) {
	f.Add("subject", "tests/golden/test_x.py", uint64(1))
	f.Add("", "", uint64(0))
	f.Add("ключ", "é́<>&", uint64(18446744073709551615))

	f.Fuzz(func(t *testing.T, key, value string, seq uint64) {
		v := map[string]any{"seq": seq, key: value, "nested": map[string]any{value: key}}
		first, err := CanonicalMarshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		dec := json.NewDecoder(bytes.NewReader(first))
		dec.UseNumber()
		var decoded any
		if err := dec.Decode(&decoded); err != nil {
			t.Fatalf("canonical output is not valid JSON: %v\n%s", err, first)
		}
		second, err := CanonicalMarshal(decoded)
		if err != nil {
			t.Fatalf("re-marshal: %v", err)
		}
		if !bytes.Equal(first, second) {
			t.Errorf("canonical form not stable:\n%s\n%s", first, second)
		}
	})
}
