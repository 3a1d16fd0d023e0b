// Package schema evaluates declarative extraction rules against an HTML
// snapshot. A schema is an ordered list of tagged rules (text, attribute,
// sanitized snippet), optionally post-processed by a regex capture and a
// value transform.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/copyleftdev/gleaner/internal/config"
)

type Kind string

const (
	KindText Kind = "text"
	KindAttr Kind = "attr"
	KindHTML Kind = "html"
)

type Transform string

const (
	TransformNone   Transform = ""
	TransformNumber Transform = "number"
	TransformTime   Transform = "time"
)

// Field is one extraction rule. Immutable once compiled.
type Field struct {
	Name      string
	Kind      Kind
	Selector  string
	Attr      string
	Pattern   *regexp.Regexp
	Required  bool
	Transform Transform
}

type Schema struct {
	Fields []Field
}

// Record maps field names to extracted values.
type Record map[string]any

// ExtractionError lists every required field that could not be resolved.
// Partial holds the fields that did resolve; the caller decides whether
// partial success is acceptable.
type ExtractionError struct {
	Missing []string
	Partial Record
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: required fields unresolved: %s",
		strings.Join(e.Missing, ", "))
}

// FromConfig compiles field rules, validating regex patterns and transforms
// up front so a run never fails late on a bad rule.
func FromConfig(fields []config.FieldConfig) (*Schema, error) {
	s := &Schema{Fields: make([]Field, 0, len(fields))}
	for _, fc := range fields {
		if fc.Name == "" {
			return nil, fmt.Errorf("schema field without a name")
		}
		kind := Kind(fc.Kind)
		if kind == "" {
			kind = KindText
		}

		f := Field{
			Name:     fc.Name,
			Kind:     kind,
			Selector: fc.Selector,
			Attr:     fc.Attr,
			Required: fc.Required,
		}

		switch Transform(fc.Transform) {
		case TransformNone, TransformNumber, TransformTime:
			f.Transform = Transform(fc.Transform)
		default:
			return nil, fmt.Errorf("field %q: unknown transform %q", fc.Name, fc.Transform)
		}

		if fc.Pattern != "" {
			re, err := regexp.Compile(fc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("field %q: invalid pattern: %w", fc.Name, err)
			}
			f.Pattern = re
		}

		s.Fields = append(s.Fields, f)
	}
	return s, nil
}

// Extract evaluates every rule in declared order against sel. Optional
// fields that fail are omitted from the record; required fields that fail
// make the whole record fail with an ExtractionError carrying the partial
// result.
func (s *Schema) Extract(sel *goquery.Selection) (Record, error) {
	rec := Record{}
	var missing []string

	for _, f := range s.Fields {
		val, ok := evalField(sel, f)
		if !ok {
			if f.Required {
				missing = append(missing, f.Name)
			}
			continue
		}
		rec[f.Name] = val
	}

	if len(missing) > 0 {
		return nil, &ExtractionError{Missing: missing, Partial: rec}
	}
	return rec, nil
}

// ExtractAll parses html and evaluates the schema. With an items selector
// each matching element yields its own record, skipping elements that fail
// required rules; without one the whole document yields a single record.
func ExtractAll(html, itemsSelector string, s *Schema, maxRecords int) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page html: %w", err)
	}

	if itemsSelector == "" {
		rec, err := s.Extract(doc.Selection)
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	}

	var records []Record
	doc.Find(itemsSelector).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		rec, err := s.Extract(item)
		if err != nil {
			// Items missing required fields are noise (ads, placeholders,
			// partially rendered rows); drop them and keep going.
			return true
		}
		records = append(records, rec)
		return maxRecords <= 0 || len(records) < maxRecords
	})
	return records, nil
}

func evalField(sel *goquery.Selection, f Field) (any, bool) {
	scope := sel
	if f.Selector != "" {
		scope = sel.Find(f.Selector)
		if scope.Length() == 0 {
			return nil, false
		}
	}

	var raw string
	switch f.Kind {
	case KindAttr:
		v, ok := scope.First().Attr(f.Attr)
		if !ok {
			return nil, false
		}
		raw = strings.TrimSpace(v)
	case KindHTML:
		h, err := goquery.OuterHtml(scope.First())
		if err != nil {
			return nil, false
		}
		clean, err := Sanitize(h)
		if err != nil {
			return nil, false
		}
		raw = strings.TrimSpace(clean)
	default:
		raw = strings.TrimSpace(scope.First().Text())
	}
	if raw == "" && f.Kind != KindAttr {
		return nil, false
	}

	if f.Pattern != nil {
		m := f.Pattern.FindStringSubmatch(raw)
		if m == nil {
			return nil, false
		}
		if len(m) > 1 {
			raw = m[1]
		} else {
			raw = m[0]
		}
	}

	switch f.Transform {
	case TransformNumber:
		n, err := ParseCount(raw)
		if err != nil {
			return nil, false
		}
		return n, true
	case TransformTime:
		t, err := ParseStamp(raw)
		if err != nil {
			return nil, false
		}
		return t, true
	default:
		return raw, true
	}
}
