package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JonMunkholm/sheetimport/internal/richtext"
)

var (
	placeholderRe       = regexp.MustCompile(`\{([^}]+)\}`)
	singlePlaceholderRe = regexp.MustCompile(`^\{([^{}]*)\}$`)
	braceStripper       = strings.NewReplacer("{", "", "}", "")
)

// Mapper turns one record into entry fields according to a FieldMapping.
type Mapper struct {
	rules  *FieldRules
	locale string
}

// NewMapper creates a mapper. A nil rules value uses DefaultFieldRules.
func NewMapper(rules *FieldRules, locale string) *Mapper {
	if rules == nil {
		rules = DefaultFieldRules()
	}
	if locale == "" {
		locale = DefaultLocale
	}
	return &Mapper{rules: rules, locale: locale}
}

// Rules returns the mapper's field rules.
func (m *Mapper) Rules() *FieldRules { return m.rules }

// Locale returns the locale code values are stored under.
func (m *Mapper) Locale() string { return m.locale }

// MappedRecord is the entry payload computed for one record.
type MappedRecord struct {
	Slug    string      `json:"slug"`
	EntryID string      `json:"entryId"`
	Fields  EntryFields `json:"fields"`
}

// CheckMapping reports mapping problems that make every record unusable.
func (m *Mapper) CheckMapping(mapping FieldMapping) error {
	if len(mapping) == 0 {
		return fmt.Errorf("%w: mapping is empty", ErrValidation)
	}
	slug, ok := mapping[m.rules.SlugField]
	if !ok || slug.IsEmpty() {
		return fmt.Errorf("%w: slug field %q is not mapped", ErrValidation, m.rules.SlugField)
	}
	if slug.IsComposite() {
		return fmt.Errorf("%w: slug field %q must map to a single template", ErrValidation, m.rules.SlugField)
	}
	return nil
}

// MapRecord resolves every mapped field for rec. A record whose slug
// resolves to "" yields ErrNoSlug and no fields.
func (m *Mapper) MapRecord(mapping FieldMapping, rec Record) (*MappedRecord, error) {
	slug := ""
	if t, ok := mapping[m.rules.SlugField]; ok && !t.IsComposite() {
		slug = resolveScalar(t.Value(), rec)
	}
	if slug == "" {
		return nil, ErrNoSlug
	}

	fields := make(EntryFields, len(mapping))
	for _, id := range mapping.FieldIDs() {
		value, ok := m.mapField(id, mapping[id], rec)
		if !ok {
			continue
		}
		fields[id] = map[string]any{m.locale: value}
	}

	return &MappedRecord{
		Slug:    slug,
		EntryID: NormalizeSlug(slug),
		Fields:  fields,
	}, nil
}

// KindOf returns the kind the field will be mapped as for template t.
func (m *Mapper) KindOf(fieldID string, t Template) FieldKind {
	kind := m.rules.KindFor(fieldID, t)
	if m.rules.IsSlug(fieldID) && kind != KindIgnored {
		return KindPlain
	}
	switch kind {
	case KindSEO:
		if !t.IsComposite() || len(t.Parts()) < 2 {
			return m.fallbackKind(fieldID, t)
		}
	case KindLinkList, KindEntryLink, KindEntryRef, KindAssetLink, KindPlain:
		if t.IsComposite() {
			return KindRichText
		}
	}
	return kind
}

func (m *Mapper) fallbackKind(fieldID string, t Template) FieldKind {
	if t.IsComposite() {
		return KindRichText
	}
	if m.rules.hasAssetHint(fieldID) {
		return KindAssetLink
	}
	return KindPlain
}

func (m *Mapper) mapField(id string, t Template, rec Record) (any, bool) {
	if t.IsEmpty() {
		return nil, false
	}

	switch m.KindOf(id, t) {
	case KindIgnored:
		return nil, false

	case KindSEO:
		parts := t.Parts()
		seo := SEO{
			SEOTitle:       rec[headerRef(parts[0])],
			SEODescription: rec[headerRef(parts[1])],
		}
		if seo.SEOTitle == "" || seo.SEODescription == "" {
			return nil, false
		}
		return seo, true

	case KindLinkList:
		links := linkList(t.Value(), LinkEntry)
		if len(links) == 0 {
			return nil, false
		}
		return links, true

	case KindRichText:
		parts := t.Parts()
		if !t.IsComposite() {
			parts = []string{t.Value()}
		}
		return richtext.BuildDocument(parts, rec), true

	case KindEntryLink:
		id := strings.TrimSpace(t.Value())
		if id == "" {
			return nil, false
		}
		return NewLink(LinkEntry, id), true

	case KindEntryRef:
		id := resolveScalar(t.Value(), rec)
		if id == "" {
			return nil, false
		}
		return NewLink(LinkEntry, id), true

	case KindAssetLink:
		value := resolveScalar(t.Value(), rec)
		if value == "" {
			return nil, false
		}
		return NewLink(LinkAsset, value), true

	default:
		value := resolveScalar(t.Value(), rec)
		if value == "" && !m.rules.IsSlug(id) {
			return nil, false
		}
		return value, true
	}
}

// resolveScalar reads a scalar template against rec. A template without
// braces, or consisting of exactly one placeholder, names a header.
// Anything else is substituted in full.
func resolveScalar(tmpl string, rec Record) string {
	trimmed := strings.TrimSpace(tmpl)
	if !strings.ContainsAny(trimmed, "{}") {
		return rec[trimmed]
	}
	if sm := singlePlaceholderRe.FindStringSubmatch(trimmed); sm != nil {
		return rec[strings.TrimSpace(sm[1])]
	}
	return strings.TrimSpace(richtext.Substitute(trimmed, rec))
}

// headerRef strips braces from a template and returns the header it names.
func headerRef(tmpl string) string {
	return strings.TrimSpace(braceStripper.Replace(tmpl))
}

// linkList splits a literal comma separated id list into links in list
// order. Empty ids are dropped; repeated ids are kept.
func linkList(literal string, linkType LinkType) []Link {
	var links []Link
	for _, part := range strings.Split(literal, ",") {
		if id := strings.TrimSpace(part); id != "" {
			links = append(links, NewLink(linkType, id))
		}
	}
	return links
}

// ReferencedHeaders returns the column headers the mapping reads from a
// record. Literal id lists and manual entry ids are not headers.
func (m *Mapper) ReferencedHeaders(mapping FieldMapping) []string {
	var out []string
	seen := make(map[string]bool)
	for _, id := range mapping.FieldIDs() {
		t := mapping[id]
		switch m.KindOf(id, t) {
		case KindIgnored, KindLinkList, KindEntryLink:
			continue
		}
		for _, h := range t.Headers() {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	return out
}
