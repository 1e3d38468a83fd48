package resolver

import (
	"strings"

	"github.com/golnet1/majordomo-bridge/internal/catalog"
)

// Outcome tags the result of a resolution attempt.
type Outcome string

const (
	// OutcomeMatch means exactly one controller target was identified.
	OutcomeMatch Outcome = "match"

	// OutcomeAmbiguous means several distinct targets survived narrowing;
	// the caller must disambiguate, never guess.
	OutcomeAmbiguous Outcome = "ambiguous"

	// OutcomeNotFound means no catalog entry matched the reference.
	OutcomeNotFound Outcome = "not_found"
)

// Request describes what the caller wants resolved.
type Request struct {
	// Text is the raw device reference ("включи свет на улице").
	Text string

	// Kind restricts matches to one device kind. Empty means any.
	// Channel commands are kind-scoped: switching requires a relay,
	// sensor reads require a sensor.
	Kind catalog.Kind

	// CategoryHints are preferred catalog categories, used only as a
	// tie-breaker between otherwise ambiguous candidates.
	CategoryHints []string
}

// Resolution is the explicit tagged result of Resolve.
type Resolution struct {
	Outcome Outcome

	// Query is the normalized device reference actually looked up.
	Query string

	// Entry is set when Outcome is OutcomeMatch.
	Entry *catalog.Entry

	// Candidates is set when Outcome is OutcomeAmbiguous and holds every
	// surviving entry so the channel can present the choice.
	Candidates []*catalog.Entry
}

// Resolver matches device references against the current alias catalog.
type Resolver struct {
	store *catalog.Store
}

// New creates a resolver backed by the given catalog store.
func New(store *catalog.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve maps a device reference to a controller target.
//
// Algorithm:
//  1. Normalize the text (verb stripping, case-ending stemming).
//  2. Look up the alias; fall back to a stemmed prefix match.
//  3. Drop candidates of the wrong kind.
//  4. Collapse candidates sharing one (object, property) - duplicate
//     aliasing is not ambiguity.
//  5. Apply category hints as a tie-breaker; if more than one distinct
//     target remains, surface Ambiguous with the candidate set.
func (r *Resolver) Resolve(req Request) Resolution {
	cat := r.store.Current()
	query := NormalizeQuery(req.Text)

	res := Resolution{Query: query}
	if query == "" {
		res.Outcome = OutcomeNotFound
		return res
	}

	candidates := lookup(cat, query)

	if req.Kind != "" {
		candidates = filterKind(candidates, req.Kind)
	}
	if len(candidates) == 0 {
		res.Outcome = OutcomeNotFound
		return res
	}

	candidates = dedupeTargets(candidates)
	if len(candidates) == 1 {
		res.Outcome = OutcomeMatch
		res.Entry = candidates[0]
		return res
	}

	if hinted := filterCategories(candidates, req.CategoryHints); len(hinted) > 0 {
		hinted = dedupeTargets(hinted)
		if len(hinted) == 1 {
			res.Outcome = OutcomeMatch
			res.Entry = hinted[0]
			return res
		}
		candidates = hinted
	}

	res.Outcome = OutcomeAmbiguous
	res.Candidates = candidates
	return res
}

// minStemLen guards the prefix fallback against one-letter stems matching
// half the catalog.
const minStemLen = 3

// lookup finds entries for the query, trying an exact alias match first and
// then a stemmed prefix match ("улиц" finds "улица").
func lookup(cat *catalog.Catalog, query string) []*catalog.Entry {
	if entries := cat.Lookup(query); len(entries) > 0 {
		return entries
	}

	if len([]rune(query)) < minStemLen {
		return nil
	}

	var matched []*catalog.Entry
	for _, e := range cat.Entries() {
		for _, alias := range e.Aliases {
			if strings.HasPrefix(alias, query) {
				matched = append(matched, e)
				break
			}
		}
	}
	return matched
}

// filterKind keeps entries of the required kind.
func filterKind(entries []*catalog.Entry, kind catalog.Kind) []*catalog.Entry {
	var filtered []*catalog.Entry
	for _, e := range entries {
		if e.Kind == kind {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// filterCategories keeps entries whose category is in the hint list.
func filterCategories(entries []*catalog.Entry, hints []string) []*catalog.Entry {
	if len(hints) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(hints))
	for _, h := range hints {
		allowed[catalog.NormalizeAlias(h)] = struct{}{}
	}

	var filtered []*catalog.Entry
	for _, e := range entries {
		if _, ok := allowed[catalog.NormalizeAlias(e.Category)]; ok {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// dedupeTargets collapses entries that point at the same controller target.
// Order of first occurrence is preserved.
func dedupeTargets(entries []*catalog.Entry) []*catalog.Entry {
	seen := make(map[catalog.Target]struct{}, len(entries))
	var distinct []*catalog.Entry
	for _, e := range entries {
		if _, ok := seen[e.Target]; ok {
			continue
		}
		seen[e.Target] = struct{}{}
		distinct = append(distinct, e)
	}
	return distinct
}
