package lead

import (
	"bytes"
	"encoding/json"
)

// MergePolicy decides how an incoming lead is folded into a stored one
type MergePolicy int

const (
	// OverwriteNonEmpty replaces stored values with every non-empty
	// incoming value. Used for fresh LinkedIn profile scrapes.
	OverwriteNonEmpty MergePolicy = iota
	// FillEmpty only fills stored fields that are empty. Used for
	// website scrapes, which are less reliable than what is stored.
	FillEmpty
)

func (p MergePolicy) String() string {
	if p == FillEmpty {
		return "fill_empty"
	}
	return "overwrite_non_empty"
}

type mergeField struct {
	present func(l *Lead) bool
	copy    func(dst, src *Lead)
}

// mergeFields lists every typed field except id. Presence follows the usual
// truthiness rules: empty strings, empty lists, false and zero are absent.
var mergeFields = []mergeField{
	{func(l *Lead) bool { return l.Name != "" }, func(d, s *Lead) { d.Name = s.Name }},
	{func(l *Lead) bool { return l.Title != "" }, func(d, s *Lead) { d.Title = s.Title }},
	{func(l *Lead) bool { return l.Company != "" }, func(d, s *Lead) { d.Company = s.Company }},
	{func(l *Lead) bool { return l.Location != "" }, func(d, s *Lead) { d.Location = s.Location }},
	{func(l *Lead) bool { return l.Email != "" }, func(d, s *Lead) { d.Email = s.Email }},
	{func(l *Lead) bool { return len(l.Emails) > 0 }, func(d, s *Lead) { d.Emails = cloneStrings(s.Emails) }},
	{func(l *Lead) bool { return l.SourceURL != "" }, func(d, s *Lead) { d.SourceURL = s.SourceURL }},
	{func(l *Lead) bool { return l.EmailValid != nil && *l.EmailValid }, func(d, s *Lead) { d.EmailValid = Bool(*s.EmailValid) }},
	{func(l *Lead) bool { return l.EmailScore != nil && *l.EmailScore != 0 }, func(d, s *Lead) { d.EmailScore = Float(*s.EmailScore) }},
	{func(l *Lead) bool { return l.EmailSource != "" }, func(d, s *Lead) { d.EmailSource = s.EmailSource }},
	{func(l *Lead) bool { return len(l.AlternativeEmails) > 0 }, func(d, s *Lead) { d.AlternativeEmails = cloneStrings(s.AlternativeEmails) }},
	{func(l *Lead) bool { return l.About != "" }, func(d, s *Lead) { d.About = s.About }},
	{func(l *Lead) bool { return len(l.Experiences) > 0 }, func(d, s *Lead) { d.Experiences = append([]Experience(nil), s.Experiences...) }},
	{func(l *Lead) bool { return len(l.Educations) > 0 }, func(d, s *Lead) { d.Educations = append([]Education(nil), s.Educations...) }},
}

// Merge folds incoming into existing according to policy and returns the
// result. The stored id is always kept.
func Merge(existing, incoming Lead, policy MergePolicy) Lead {
	out := existing.Clone()
	src := incoming.Clone()

	for _, f := range mergeFields {
		if !f.present(&src) {
			continue
		}
		if policy == FillEmpty && f.present(&out) {
			continue
		}
		f.copy(&out, &src)
	}

	for key, value := range src.Extra {
		if !truthyJSON(value) {
			continue
		}
		if policy == FillEmpty && truthyJSON(out.Extra[key]) {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[key] = value
	}

	out.ID = existing.ID
	return out
}

// MergeEnrichment copies the result of email enrichment onto a stored lead.
// Verification fields belong to the enricher and are replaced; the email
// itself only fills an empty slot. The camelCase aliases are kept in sync.
func MergeEnrichment(existing, enriched Lead) Lead {
	out := existing.Clone()

	if out.Email == "" && enriched.Email != "" {
		out.Email = enriched.Email
	}
	if enriched.EmailValid != nil {
		out.EmailValid = Bool(*enriched.EmailValid)
		_ = out.SetExtra(KeyEmailValidAlias, *enriched.EmailValid)
	}
	if enriched.EmailScore != nil {
		out.EmailScore = Float(*enriched.EmailScore)
		_ = out.SetExtra(KeyEmailScoreAlias, *enriched.EmailScore)
	}
	if enriched.EmailSource != "" {
		out.EmailSource = enriched.EmailSource
	}
	if len(enriched.AlternativeEmails) > 0 && len(out.AlternativeEmails) == 0 {
		out.AlternativeEmails = cloneStrings(enriched.AlternativeEmails)
	}

	return Normalize(out)
}

// truthyJSON mirrors the truthiness of a decoded JSON value
func truthyJSON(value json.RawMessage) bool {
	v := bytes.TrimSpace(value)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", "false", `""`, "[]", "{}", "0":
		return false
	}
	var f float64
	if json.Unmarshal(v, &f) == nil {
		return f != 0
	}
	var arr []json.RawMessage
	if json.Unmarshal(v, &arr) == nil {
		return len(arr) > 0
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(v, &obj) == nil {
		return len(obj) > 0
	}
	return true
}
