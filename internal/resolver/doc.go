// Package resolver turns free-text device references into controller targets.
//
// Resolution is a pure in-memory computation over the alias catalog:
// normalize the phrase (strip action verbs, prepositions and trailing
// Russian case endings), look it up, then narrow the candidate set with the
// caller's category hints and kind requirement.
//
// Every resolution produces an explicit tagged outcome - Match, Ambiguous
// or NotFound - and callers must handle all three. When several entries
// survive narrowing the resolver surfaces the full candidate set instead of
// guessing: silently actuating the wrong device is the failure mode this
// design exists to prevent.
package resolver
