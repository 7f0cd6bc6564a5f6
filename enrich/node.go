package enrich

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies which member of a Node is set
type Kind int

// Node kinds
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindMapping
	KindSequence
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Node is a decoded JSON value from a text-generation response whose shape
// is not known in advance.
type Node struct {
	Kind     Kind
	Str      string
	Num      json.Number
	Bool     bool
	Mapping  map[string]Node
	Sequence []Node
}

// priorityKeys are checked in order before any other mapping member.
var priorityKeys = []string{
	"text",
	"generated_text",
	"output",
	"result",
	"content",
	"summary",
	"answer",
}

// ParseNode decodes a JSON document into a Node
func ParseNode(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Node{}, fmt.Errorf("decode response: %w", err)
	}
	if dec.More() {
		return Node{}, fmt.Errorf("decode response: trailing data")
	}
	return fromValue(v), nil
}

func fromValue(v any) Node {
	switch val := v.(type) {
	case nil:
		return Node{Kind: KindNull}
	case string:
		return Node{Kind: KindString, Str: val}
	case json.Number:
		return Node{Kind: KindNumber, Num: val}
	case bool:
		return Node{Kind: KindBool, Bool: val}
	case map[string]any:
		m := make(map[string]Node, len(val))
		for k, child := range val {
			m[k] = fromValue(child)
		}
		return Node{Kind: KindMapping, Mapping: m}
	case []any:
		seq := make([]Node, 0, len(val))
		for _, child := range val {
			seq = append(seq, fromValue(child))
		}
		return Node{Kind: KindSequence, Sequence: seq}
	default:
		return Node{Kind: KindNull}
	}
}

// Extract pulls free text out of n. It returns "" when nothing usable is found.
//
// Strings are returned trimmed when non-blank. Mappings try the
// conventional keys text, generated_text, output, result, content, summary
// and answer in that order, then every other member in sorted key order.
// Sequences extract each element and join the non-empty results with
// newlines. Numbers, booleans and null yield nothing.
func Extract(n Node) string {
	switch n.Kind {
	case KindString:
		return strings.TrimSpace(n.Str)

	case KindMapping:
		for _, key := range priorityKeys {
			if child, ok := n.Mapping[key]; ok {
				if text := Extract(child); text != "" {
					return text
				}
			}
		}
		rest := make([]string, 0, len(n.Mapping))
		for key := range n.Mapping {
			if !isPriorityKey(key) {
				rest = append(rest, key)
			}
		}
		sort.Strings(rest)
		for _, key := range rest {
			if text := Extract(n.Mapping[key]); text != "" {
				return text
			}
		}
		return ""

	case KindSequence:
		parts := make([]string, 0, len(n.Sequence))
		for _, child := range n.Sequence {
			if text := Extract(child); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")

	default:
		return ""
	}
}

func isPriorityKey(key string) bool {
	for _, k := range priorityKeys {
		if k == key {
			return true
		}
	}
	return false
}
