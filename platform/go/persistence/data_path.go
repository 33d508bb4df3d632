package persistence

import (
	"fmt"
	"strings"
)

// DataPath addresses a nested location inside an entity's data document.
// Segments are literal object keys, so a key may itself contain a dot.
type DataPath []string

// NewDataPath builds a path from explicit segments.
func NewDataPath(segments ...string) (DataPath, error) {
	p := DataPath(append([]string(nil), segments...))
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseDataPath splits a dotted string such as "config.prefix".
func ParseDataPath(dotted string) (DataPath, error) {
	if strings.TrimSpace(dotted) == "" {
		return nil, malformed("data path is required")
	}
	return NewDataPath(strings.Split(dotted, ".")...)
}

func (p DataPath) String() string { return strings.Join(p, ".") }

func (p DataPath) validate() error {
	if len(p) == 0 {
		return malformed("data path is required")
	}
	for i, seg := range p {
		if seg == "" {
			return malformed("data path segment %d is empty", i)
		}
	}
	return nil
}

// Lookup walks doc along the path.
func (p DataPath) Lookup(doc map[string]any) (any, bool) {
	var cur any = doc
	for _, seg := range p {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at the path inside doc with the same rules UpdateData
// applies in SQL: missing or non-object prefixes become empty objects and
// siblings are kept. doc is modified in place; a nil doc is allocated.
func (p DataPath) Set(doc map[string]any, value any) map[string]any {
	if doc == nil {
		doc = map[string]any{}
	}
	if len(p) == 0 {
		return doc
	}
	cur := doc
	for _, seg := range p[:len(p)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[p[len(p)-1]] = value
	return doc
}

// deepSetExpr returns a jsonb expression that writes valueParam at the path
// held in pathParam (a text[]) inside column. Every prefix that is missing or
// not an object is replaced by an empty object, and siblings are kept.
//
// For a path of depth 2 on column data the result is:
//
//	jsonb_set(obj(data), p[1:1], jsonb_set(obj(data #> p[1:1]), p[2:2], v))
//
// where obj(x) coerces non-objects to '{}'.
func deepSetExpr(column string, depth, pathParam, valueParam int) string {
	path := fmt.Sprintf("$%d::text[]", pathParam)
	value := fmt.Sprintf("$%d::jsonb", valueParam)

	object := func(expr string) string {
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%[1]s) = 'object' THEN %[1]s ELSE '{}'::jsonb END)", expr)
	}
	slice := func(from, to int) string {
		return fmt.Sprintf("(%s)[%d:%d]", path, from, to)
	}

	expr := value
	for level := depth; level >= 1; level-- {
		target := column
		if level > 1 {
			target = fmt.Sprintf("(%s #> %s)", column, slice(1, level-1))
		}
		expr = fmt.Sprintf("jsonb_set(%s, %s, %s, true)", object(target), slice(level, level), expr)
	}
	return expr
}
