package receiver

import (
	"math"
	"strconv"
	"strings"

	"github.com/czue/commcare-connect/pkg/errutil"
)

// maxBlockDepth bounds the recursive descent over the form body so a
// pathological submission cannot blow the stack.
const maxBlockDepth = 32

// findLearnBlocks walks the nested form tree and collects every object stored
// under the given key whose "@xmlns" matches xmlns. Blocks can appear at any
// depth; a key holding a list yields one block per element. A matched node
// that is not an object is a structural error.
func findLearnBlocks(form map[string]any, key, xmlns string) ([]map[string]any, error) {
	var blocks []map[string]any
	if err := collectBlocks(form, key, xmlns, 0, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func collectBlocks(node map[string]any, key, xmlns string, depth int, out *[]map[string]any) error {
	if depth > maxBlockDepth {
		return errutil.MalformedInput("form body nesting exceeds supported depth")
	}

	for k, v := range node {
		if k == key {
			if err := appendMatches(v, xmlns, out); err != nil {
				return err
			}
			continue
		}

		switch child := v.(type) {
		case map[string]any:
			if err := collectBlocks(child, key, xmlns, depth+1, out); err != nil {
				return err
			}
		case []any:
			for _, item := range child {
				if m, ok := item.(map[string]any); ok {
					if err := collectBlocks(m, key, xmlns, depth+1, out); err != nil {
						return err
					}
				}
			}
		}
	}

	return nil
}

func appendMatches(v any, xmlns string, out *[]map[string]any) error {
	switch block := v.(type) {
	case map[string]any:
		if blockXMLNS(block) == xmlns {
			*out = append(*out, block)
		}
	case []any:
		for _, item := range block {
			m, ok := item.(map[string]any)
			if !ok {
				return errutil.MalformedInput("learn block is not an object")
			}
			if blockXMLNS(m) == xmlns {
				*out = append(*out, m)
			}
		}
	default:
		return errutil.MalformedInput("learn block is not an object")
	}
	return nil
}

func blockXMLNS(block map[string]any) string {
	ns, _ := block["@xmlns"].(string)
	return ns
}

// blockString reads a string attribute from a block, tolerating numeric JSON
// values the way HQ serializes them.
func blockString(block map[string]any, key string) string {
	switch v := block[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// blockInt parses an integer attribute from a block. JSON numbers and numeric
// strings are both accepted.
func blockInt(block map[string]any, key string) (int, error) {
	switch v := block[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, errutil.MalformedInput(key + " must be an integer")
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errutil.MalformedInput(key + " must be an integer")
		}
		return n, nil
	default:
		return 0, errutil.MalformedInput(key + " must be an integer")
	}
}
