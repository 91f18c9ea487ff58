package discovery

import (
	"time"

	"circl/backend/internal/graph"
)

// Age returns the whole years between birthdate and now, counting a birthday
// only once its month and day have been reached.
func Age(birthdate, now time.Time) int {
	age := now.Year() - birthdate.Year()
	if now.Month() < birthdate.Month() || (now.Month() == birthdate.Month() && now.Day() < birthdate.Day()) {
		age--
	}
	return age
}

// Filter keeps a candidate when it returns true
type Filter func(c graph.Candidate) bool

// PreferenceFilters returns the preference filters in their fixed order: age, gender,
// shared interest. Filters whose preference is absent are omitted.
func PreferenceFilters(p graph.Preferences, now time.Time) []Filter {
	var filters []Filter
	if p.MinAge > 0 || p.MaxAge > 0 {
		filters = append(filters, ageFilter(p.MinAge, p.MaxAge, now))
	}
	if len(p.GenderPreferences) > 0 {
		filters = append(filters, genderFilter(p.GenderPreferences))
	}
	if len(p.Interests) > 0 {
		filters = append(filters, interestFilter(p.Interests))
	}
	return filters
}

// Apply keeps the candidates that pass every filter, preserving order
func Apply(candidates []graph.Candidate, filters ...Filter) []graph.Candidate {
	if len(filters) == 0 {
		return candidates
	}
	kept := make([]graph.Candidate, 0, len(candidates))
next:
	for _, c := range candidates {
		for _, f := range filters {
			if !f(c) {
				continue next
			}
		}
		kept = append(kept, c)
	}
	return kept
}

// ageFilter bounds are inclusive; 0 disables a bound. Unknown birthdates fail.
func ageFilter(minAge, maxAge int, now time.Time) Filter {
	return func(c graph.Candidate) bool {
		if c.User.Birthdate.IsZero() {
			return false
		}
		age := Age(c.User.Birthdate, now)
		if minAge > 0 && age < minAge {
			return false
		}
		if maxAge > 0 && age > maxAge {
			return false
		}
		return true
	}
}

func genderFilter(allowed []graph.Gender) Filter {
	set := make(map[graph.Gender]struct{}, len(allowed))
	for _, g := range allowed {
		set[g] = struct{}{}
	}
	return func(c graph.Candidate) bool {
		_, ok := set[c.User.Gender]
		return ok
	}
}

func interestFilter(wanted []string) Filter {
	set := make(map[string]struct{}, len(wanted))
	for _, id := range wanted {
		set[id] = struct{}{}
	}
	return func(c graph.Candidate) bool {
		for _, in := range c.User.Interests {
			if _, ok := set[in.ID]; ok {
				return true
			}
		}
		return false
	}
}

// excludeIDs drops candidates whose id is in any of the lists
func excludeIDs(lists ...[]string) Filter {
	set := map[string]struct{}{}
	for _, ids := range lists {
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}
	return func(c graph.Candidate) bool {
		_, ok := set[c.User.ID]
		return !ok
	}
}
