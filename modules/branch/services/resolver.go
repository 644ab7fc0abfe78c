package services

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Paths are split on the ascii and the full-width slash. Segments are
// otherwise kept as typed so they compare exactly with stored unit names.
func isPathDelimiter(r rune) bool { return r == '/' || r == '／' }

// PersonKeyMode selects the natural key persons are matched and deduplicated by.
type PersonKeyMode string

const (
	PersonKeyName       PersonKeyMode = "name"
	PersonKeyNameBranch PersonKeyMode = "name_branch"
)

func ParsePersonKeyMode(s string) (PersonKeyMode, error) {
	switch PersonKeyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", PersonKeyNameBranch:
		return PersonKeyNameBranch, nil
	case PersonKeyName:
		return PersonKeyName, nil
	default:
		return "", fmt.Errorf("invalid person key %q (expected name|name_branch)", s)
	}
}

// PersonKey renders the natural key of a person under mode.
func PersonKey(mode PersonKeyMode, name string, branchID *int64) string {
	if mode != PersonKeyNameBranch {
		return name
	}
	if branchID == nil {
		return name + "\x1f-"
	}
	return fmt.Sprintf("%s\x1f%d", name, *branchID)
}

type NamedID struct {
	ID   int64
	Name string
}

type PersonRef struct {
	ID       int64
	Name     string
	BranchID *int64
}

// Resolver is the per-import name index. It is loaded once when the run's
// transaction opens and updated as rows are written, so later rows see
// entities created by earlier ones. Duplicate keys resolve to the lowest id.
type Resolver struct {
	mode          PersonKeyMode
	branches      map[string]int64
	branchNames   []string
	persons       map[string]int64
	personsByName map[string]int64
}

func NewResolver(mode PersonKeyMode, branches []NamedID, persons []PersonRef) *Resolver {
	r := &Resolver{
		mode:          mode,
		branches:      make(map[string]int64, len(branches)),
		persons:       make(map[string]int64, len(persons)),
		personsByName: make(map[string]int64, len(persons)),
	}
	for _, b := range branches {
		r.RememberBranch(b.Name, b.ID)
	}
	for _, p := range persons {
		r.RememberPerson(p.Name, p.BranchID, p.ID)
	}
	return r
}

func keepLowest(m map[string]int64, key string, id int64) bool {
	if prev, ok := m[key]; ok && prev <= id {
		return false
	}
	m[key] = id
	return true
}

func (r *Resolver) RememberBranch(name string, id int64) {
	if _, known := r.branches[name]; !known {
		r.branchNames = append(r.branchNames, name)
	}
	keepLowest(r.branches, name, id)
}

func (r *Resolver) RememberPerson(name string, branchID *int64, id int64) {
	keepLowest(r.persons, PersonKey(r.mode, name, branchID), id)
	keepLowest(r.personsByName, name, id)
}

// Branch is an exact, case-sensitive match on the unit name.
func (r *Resolver) Branch(name string) (int64, bool) {
	id, ok := r.branches[name]
	return id, ok
}

// BranchFromPath walks a slash-delimited path from the most specific segment
// to the least and returns the first segment naming a known unit.
func (r *Resolver) BranchFromPath(path string) (int64, string, bool) {
	segments := PathSegments(path)
	for i := len(segments) - 1; i >= 0; i-- {
		if id, ok := r.branches[segments[i]]; ok {
			return id, segments[i], true
		}
	}
	return 0, "", false
}

func PathSegments(path string) []string {
	parts := strings.FieldsFunc(path, isPathDelimiter)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *Resolver) Person(name string, branchID *int64) (int64, bool) {
	id, ok := r.persons[PersonKey(r.mode, name, branchID)]
	return id, ok
}

// Leader resolves a leadership slot name: a same-named person in the unit
// wins, otherwise the lowest id carrying that name.
func (r *Resolver) Leader(name string, branchID int64) (int64, bool) {
	if id, ok := r.persons[PersonKey(r.mode, name, &branchID)]; ok {
		return id, true
	}
	id, ok := r.personsByName[name]
	return id, ok
}

const maxSuggestions = 3

// SuggestBranches ranks known unit names close to name.
func (r *Resolver) SuggestBranches(name string) []string {
	type candidate struct {
		name     string
		distance int
	}
	limit := max(1, utf8.RuneCountInString(name)/3)
	var found []candidate
	for _, known := range r.branchNames {
		if d := fuzzy.RankMatchNormalizedFold(name, known); d >= 0 {
			found = append(found, candidate{known, d})
			continue
		}
		if d := fuzzy.LevenshteinDistance(name, known); d <= limit {
			found = append(found, candidate{known, d})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].distance != found[j].distance {
			return found[i].distance < found[j].distance
		}
		return found[i].name < found[j].name
	})
	out := make([]string, 0, maxSuggestions)
	for i := 0; i < len(found) && i < maxSuggestions; i++ {
		out = append(out, found[i].name)
	}
	return out
}
