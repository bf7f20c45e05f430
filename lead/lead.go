// Package lead defines the lead record and the pure transformations applied
// to collections of leads: normalization, deduplication and merging.
package lead

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Experience is one position scraped from a LinkedIn profile
type Experience struct {
	Title    string `json:"title"`
	Company  string `json:"company"`
	Duration string `json:"duration"`
}

// Education is one school entry scraped from a LinkedIn profile
type Education struct {
	School string `json:"school"`
	Degree string `json:"degree"`
}

// Lead is one prospective contact. The first eight fields are always present
// in the encoded form; the enrichment fields are written only when set.
// Keys this type does not know are kept in Extra and written back unchanged.
type Lead struct {
	ID        int
	Name      string
	Title     string
	Company   string
	Location  string
	Email     string
	Emails    []string
	SourceURL string

	EmailValid        *bool
	EmailScore        *float64
	EmailSource       string
	AlternativeEmails []string
	About             string
	Experiences       []Experience
	Educations        []Education

	Extra map[string]json.RawMessage
}

// Encoded keys
const (
	KeyID                = "id"
	KeyName              = "name"
	KeyTitle             = "title"
	KeyCompany           = "company"
	KeyLocation          = "location"
	KeyEmail             = "email"
	KeyEmails            = "emails"
	KeySourceURL         = "source_url"
	KeyEmailValid        = "email_valid"
	KeyEmailScore        = "email_score"
	KeyEmailSource       = "email_source"
	KeyAlternativeEmails = "alternative_emails"
	KeyAbout             = "about"
	KeyExperiences       = "experiences"
	KeyEducations        = "educations"

	// camelCase aliases expected by the web frontend
	KeyEmailValidAlias = "emailValid"
	KeyEmailScoreAlias = "emailScore"
)

// RequiredKeys are present on every normalized lead, in encoding order.
var RequiredKeys = []string{KeyName, KeyTitle, KeyCompany, KeyLocation, KeyEmail, KeyEmails, KeySourceURL}

var knownKeys = map[string]bool{
	KeyID: true, KeyName: true, KeyTitle: true, KeyCompany: true, KeyLocation: true,
	KeyEmail: true, KeyEmails: true, KeySourceURL: true, KeyEmailValid: true,
	KeyEmailScore: true, KeyEmailSource: true, KeyAlternativeEmails: true,
	KeyAbout: true, KeyExperiences: true, KeyEducations: true,
}

// Field is a single key/value pair of an encoded lead
type Field struct {
	Key   string
	Value interface{}
}

// Record returns the lead's fields in encoding order. Extra keys follow the
// known ones, sorted by name.
func (l Lead) Record() []Field {
	emails := l.Emails
	if emails == nil {
		emails = []string{}
	}

	fields := []Field{
		{KeyID, l.ID},
		{KeyName, l.Name},
		{KeyTitle, l.Title},
		{KeyCompany, l.Company},
		{KeyLocation, l.Location},
		{KeyEmail, l.Email},
		{KeyEmails, emails},
		{KeySourceURL, l.SourceURL},
	}

	if l.EmailValid != nil {
		fields = append(fields, Field{KeyEmailValid, *l.EmailValid})
	}
	if l.EmailScore != nil {
		fields = append(fields, Field{KeyEmailScore, *l.EmailScore})
	}
	if l.EmailSource != "" {
		fields = append(fields, Field{KeyEmailSource, l.EmailSource})
	}
	if l.AlternativeEmails != nil {
		fields = append(fields, Field{KeyAlternativeEmails, l.AlternativeEmails})
	}
	if l.About != "" {
		fields = append(fields, Field{KeyAbout, l.About})
	}
	if l.Experiences != nil {
		fields = append(fields, Field{KeyExperiences, l.Experiences})
	}
	if l.Educations != nil {
		fields = append(fields, Field{KeyEducations, l.Educations})
	}

	emitted := make(map[string]bool, len(fields))
	for _, f := range fields {
		emitted[f.Key] = true
	}

	keys := make([]string, 0, len(l.Extra))
	for k := range l.Extra {
		if !emitted[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, Field{k, l.Extra[k]})
	}

	return fields
}

// MarshalJSON writes the lead as an object with a stable key order
func (l Lead) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range l.Record() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a lead leniently. Required string fields accept any
// scalar; optional fields that do not match their type are kept in Extra
// untouched so a later save writes them back as they were.
func (l *Lead) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*l = Lead{}
	extra := make(map[string]json.RawMessage)

	for key, value := range raw {
		if !knownKeys[key] {
			extra[key] = value
			continue
		}

		switch key {
		case KeyID:
			l.ID = decodeID(value)
		case KeyName:
			l.Name = decodeString(value)
		case KeyTitle:
			l.Title = decodeString(value)
		case KeyCompany:
			l.Company = decodeString(value)
		case KeyLocation:
			l.Location = decodeString(value)
		case KeyEmail:
			l.Email = decodeString(value)
		case KeyEmails:
			l.Emails = decodeStrings(value)
		case KeySourceURL:
			l.SourceURL = decodeString(value)
		default:
			if !l.decodeOptional(key, value) {
				extra[key] = value
			}
		}
	}

	if len(extra) > 0 {
		l.Extra = extra
	}
	return nil
}

func (l *Lead) decodeOptional(key string, value json.RawMessage) bool {
	if isNull(value) {
		return false
	}

	var target interface{}
	switch key {
	case KeyEmailValid:
		var v bool
		if json.Unmarshal(value, &v) != nil {
			return false
		}
		l.EmailValid = &v
		return true
	case KeyEmailScore:
		var v float64
		if json.Unmarshal(value, &v) != nil {
			return false
		}
		l.EmailScore = &v
		return true
	case KeyEmailSource:
		target = &l.EmailSource
	case KeyAlternativeEmails:
		target = &l.AlternativeEmails
	case KeyAbout:
		target = &l.About
	case KeyExperiences:
		target = &l.Experiences
	case KeyEducations:
		target = &l.Educations
	default:
		return false
	}

	return json.Unmarshal(value, target) == nil
}

func isNull(value json.RawMessage) bool {
	return len(bytes.TrimSpace(value)) == 0 || bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

// decodeID accepts integral numbers only; anything else counts as "no id"
func decodeID(value json.RawMessage) int {
	var f float64
	if err := json.Unmarshal(value, &f); err != nil {
		return 0
	}
	if f != float64(int(f)) {
		return 0
	}
	return int(f)
}

func decodeString(value json.RawMessage) string {
	if isNull(value) {
		return ""
	}
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(value))
}

func decodeStrings(value json.RawMessage) []string {
	if isNull(value) {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(value, &items); err != nil {
		if s := decodeString(value); s != "" {
			return []string{s}
		}
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, decodeString(item))
	}
	return out
}

// IsEmpty reports whether the lead carries no data at all (ignoring id)
func (l Lead) IsEmpty() bool {
	return l.Name == "" && l.Title == "" && l.Company == "" && l.Location == "" &&
		l.Email == "" && len(l.Emails) == 0 && l.SourceURL == "" &&
		l.EmailValid == nil && l.EmailScore == nil && l.EmailSource == "" &&
		len(l.AlternativeEmails) == 0 && l.About == "" &&
		len(l.Experiences) == 0 && len(l.Educations) == 0 && len(l.Extra) == 0
}

// Clone returns a deep copy of the lead
func (l Lead) Clone() Lead {
	c := l
	c.Emails = cloneStrings(l.Emails)
	c.AlternativeEmails = cloneStrings(l.AlternativeEmails)
	if l.EmailValid != nil {
		v := *l.EmailValid
		c.EmailValid = &v
	}
	if l.EmailScore != nil {
		v := *l.EmailScore
		c.EmailScore = &v
	}
	if l.Experiences != nil {
		c.Experiences = append([]Experience(nil), l.Experiences...)
	}
	if l.Educations != nil {
		c.Educations = append([]Education(nil), l.Educations...)
	}
	if l.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(l.Extra))
		for k, v := range l.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

// SetExtra stores an arbitrary value under key in Extra
func (l *Lead) SetExtra(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if l.Extra == nil {
		l.Extra = make(map[string]json.RawMessage)
	}
	l.Extra[key] = data
	return nil
}

// HasEmail reports whether address is already listed in Emails
func (l Lead) HasEmail(address string) bool {
	for _, e := range l.Emails {
		if e == address {
			return true
		}
	}
	return false
}

// CloneAll deep-copies a slice of leads
func CloneAll(leads []Lead) []Lead {
	out := make([]Lead, len(leads))
	for i, l := range leads {
		out[i] = l.Clone()
	}
	return out
}

// Bool and Float return pointers for the optional enrichment fields
func Bool(v bool) *bool { return &v }

func Float(v float64) *float64 { return &v }

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
