package core

import (
	"fmt"
	"strings"
)

// FieldKind selects how a mapped field's template becomes an entry value.
type FieldKind string

const (
	KindPlain     FieldKind = "plain"
	KindEntryLink FieldKind = "entry-link"
	KindEntryRef  FieldKind = "entry-ref"
	KindAssetLink FieldKind = "asset-link"
	KindLinkList  FieldKind = "link-list"
	KindRichText  FieldKind = "rich-text"
	KindSEO       FieldKind = "seo"
	KindIgnored   FieldKind = "ignored"
)

var validKinds = map[FieldKind]bool{
	KindPlain:     true,
	KindEntryLink: true,
	KindEntryRef:  true,
	KindAssetLink: true,
	KindLinkList:  true,
	KindRichText:  true,
	KindSEO:       true,
	KindIgnored:   true,
}

// ParseFieldKind validates a kind name.
func ParseFieldKind(s string) (FieldKind, error) {
	k := FieldKind(strings.ToLower(strings.TrimSpace(s)))
	if !validKinds[k] {
		return "", fmt.Errorf("%w: unknown field kind %q", ErrValidation, s)
	}
	return k, nil
}

// Default rule values used when configuration does not override them.
const (
	DefaultSlugField = "slug"
	DefaultLocale    = "nl"
)

// DefaultAssetHints are field id substrings that mark asset links when a
// field has no explicit kind.
var DefaultAssetHints = []string{"image", "banner", "iframe"}

// FieldRules assigns a kind to field ids. Lookups are case-insensitive.
// Fields without an explicit kind fall back to the asset hints and then to
// plain (scalar templates) or rich text (composite templates).
type FieldRules struct {
	SlugField  string
	AssetHints []string
	kinds      map[string]FieldKind
}

// NewFieldRules returns rules with no explicit kinds.
func NewFieldRules(slugField string, assetHints []string) *FieldRules {
	if slugField == "" {
		slugField = DefaultSlugField
	}
	hints := make([]string, 0, len(assetHints))
	for _, h := range assetHints {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hints = append(hints, h)
		}
	}
	return &FieldRules{
		SlugField:  slugField,
		AssetHints: hints,
		kinds:      make(map[string]FieldKind),
	}
}

// DefaultFieldRules returns the rule set for the product content model:
// listOfLocation is ignored, seo is the composite SEO object, productTag is a
// literal list of entry links and categoryProduct a manual entry link.
func DefaultFieldRules() *FieldRules {
	r := NewFieldRules(DefaultSlugField, DefaultAssetHints)
	r.Set("listOfLocation", KindIgnored)
	r.Set("seo", KindSEO)
	r.Set("productTag", KindLinkList)
	r.Set("categoryProduct", KindEntryLink)
	return r
}

// Set assigns an explicit kind to a field.
func (r *FieldRules) Set(fieldID string, kind FieldKind) {
	r.kinds[strings.ToLower(strings.TrimSpace(fieldID))] = kind
}

// Explicit returns the configured kind for a field, if any.
func (r *FieldRules) Explicit(fieldID string) (FieldKind, bool) {
	k, ok := r.kinds[strings.ToLower(fieldID)]
	return k, ok
}

// KindFor resolves the kind a field takes for the given template.
func (r *FieldRules) KindFor(fieldID string, t Template) FieldKind {
	if k, ok := r.Explicit(fieldID); ok {
		return k
	}
	if r.hasAssetHint(fieldID) && !t.IsComposite() {
		return KindAssetLink
	}
	if t.IsComposite() {
		return KindRichText
	}
	return KindPlain
}

// IsSlug reports whether fieldID is the slug field.
func (r *FieldRules) IsSlug(fieldID string) bool {
	return fieldID == r.SlugField
}

func (r *FieldRules) hasAssetHint(fieldID string) bool {
	lower := strings.ToLower(fieldID)
	for _, h := range r.AssetHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (r *FieldRules) Clone() *FieldRules {
	cp := NewFieldRules(r.SlugField, r.AssetHints)
	for k, v := range r.kinds {
		cp.kinds[k] = v
	}
	return cp
}

// RulesFromContentType derives kinds from a content type schema. Fields
// that already have an explicit kind in base keep it.
func RulesFromContentType(base *FieldRules, ct *ContentType) *FieldRules {
	rules := base.Clone()
	if ct == nil {
		return rules
	}
	for _, f := range ct.Fields {
		if _, ok := rules.Explicit(f.ID); ok {
			continue
		}
		if k, ok := kindFromSchema(f, rules); ok {
			rules.Set(f.ID, k)
		}
	}
	return rules
}

func kindFromSchema(f ContentField, rules *FieldRules) (FieldKind, bool) {
	switch f.Type {
	case "Link":
		if f.LinkType == string(LinkAsset) {
			return KindAssetLink, true
		}
		return KindEntryRef, true
	case "Array":
		if f.Items != nil && f.Items.Type == "Link" && f.Items.LinkType == string(LinkEntry) {
			return KindLinkList, true
		}
	case "RichText":
		return KindRichText, true
	case "Object":
		if strings.EqualFold(f.ID, "seo") {
			return KindSEO, true
		}
	case "Symbol", "Text":
		if !rules.IsSlug(f.ID) {
			return KindPlain, true
		}
	}
	return "", false
}
