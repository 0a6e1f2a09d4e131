package docyard

// docvalue.go implements property extraction from stored document bodies.
// The same walker backs the registered SQL functions and full-text index
// maintenance.

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aalhour/docyard/internal/compression"
)

// parseBody unframes and parses a stored document body into a JSON value
// tree. Numbers decode as json.Number so integers survive intact.
func parseBody(stored []byte) (any, error) {
	raw, err := compression.Decode(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRevisionData, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRevisionData, err)
	}
	return v, nil
}

// walkPath navigates a dotted property path ("a.b[2].c"; empty path is the
// root). A missing property yields (nil, false).
func walkPath(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		name := seg
		var indexes []int
		for strings.HasSuffix(name, "]") {
			open := strings.LastIndexByte(name, '[')
			if open < 0 {
				return nil, false
			}
			idx, err := strconv.Atoi(name[open+1 : len(name)-1])
			if err != nil {
				return nil, false
			}
			indexes = append([]int{idx}, indexes...)
			name = name[:open]
		}
		if name != "" {
			dict, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = dict[name]
			if !ok {
				return nil, false
			}
		}
		for _, idx := range indexes {
			arr, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
		}
	}
	return cur, true
}

// extractText returns the string value at path, for full-text indexing.
// Non-string and missing values index as empty text.
func extractText(body []byte, path string) string {
	root, err := parseBody(body)
	if err != nil {
		return ""
	}
	v, ok := walkPath(root, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
