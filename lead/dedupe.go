package lead

// DedupeStats describes what a dedupe pass did to its input
type DedupeStats struct {
	Input         int
	Output        int
	MergedByEmail int // leads replaced by a later lead with the same email
	MergedByURL   int // email-less leads skipped for a repeated source_url
	Dropped       int // leads with neither email nor source_url
}

// Dedupe collapses leads to one per identity key and renumbers ids 1..N.
func Dedupe(leads []Lead) []Lead {
	out, _ := DedupeWithStats(leads)
	return out
}

// DedupeWithStats is Dedupe plus a report of what was merged or dropped.
//
// Leads with an email are keyed by it and the last one wins, although the
// key keeps the position of its first occurrence. Leads without an email
// are keyed by source_url and the first one wins. Email-keyed leads come
// first in the result. Leads with neither key are discarded.
func DedupeWithStats(leads []Lead) ([]Lead, DedupeStats) {
	stats := DedupeStats{Input: len(leads)}
	normalized := NormalizeAll(leads)

	var emailOrder []string
	byEmail := make(map[string]Lead)
	for _, l := range normalized {
		if l.Email == "" {
			continue
		}
		if _, seen := byEmail[l.Email]; seen {
			stats.MergedByEmail++
		} else {
			emailOrder = append(emailOrder, l.Email)
		}
		byEmail[l.Email] = l
	}

	var urlOrder []string
	byURL := make(map[string]Lead)
	for _, l := range normalized {
		if l.Email != "" {
			continue
		}
		if l.SourceURL == "" {
			stats.Dropped++
			continue
		}
		if _, seen := byURL[l.SourceURL]; seen {
			stats.MergedByURL++
			continue
		}
		urlOrder = append(urlOrder, l.SourceURL)
		byURL[l.SourceURL] = l
	}

	out := make([]Lead, 0, len(emailOrder)+len(urlOrder))
	for _, key := range emailOrder {
		out = append(out, byEmail[key])
	}
	for _, key := range urlOrder {
		out = append(out, byURL[key])
	}

	for i := range out {
		out[i].ID = i + 1
	}

	stats.Output = len(out)
	return out, stats
}
