package symbols

import (
	"strings"

	"phpscope/internal/extract"
	"phpscope/internal/scan"
)

// Location is a declaration site.
type Location struct {
	File  string        `json:"file"`
	Range extract.Range `json:"range"`
}

// Meta describes the declaration behind one key in one file.
type Meta struct {
	Name         string        `json:"name"`
	File         string        `json:"file"`
	Kind         extract.Kind  `json:"kind"`
	Container    string        `json:"container,omitempty"`
	ContainerFQN string        `json:"container_fqn,omitempty"`
	Static       bool          `json:"static,omitempty"`
	Type         string        `json:"type,omitempty"`
	ResolvedType string        `json:"resolved_type,omitempty"`
	Range        extract.Range `json:"range"`
}

// Location returns where the declaration sits.
func (m Meta) Location() Location {
	return Location{File: m.File, Range: m.Range}
}

// ClassInfo is the hierarchy record of one class-like declaration.
type ClassInfo struct {
	Name       string        `json:"name"`
	FQN        string        `json:"fqn"`
	Kind       extract.Kind  `json:"kind,omitempty"`
	File       string        `json:"file,omitempty"` // empty for types never indexed
	Range      extract.Range `json:"range"`
	Extends    string        `json:"extends,omitempty"`
	Implements []string      `json:"implements,omitempty"`
}

// Parents returns Extends followed by Implements.
func (c ClassInfo) Parents() []string {
	var out []string
	if c.Extends != "" {
		out = append(out, c.Extends)
	}
	return append(out, c.Implements...)
}

// Member is one entry of a class's member listing.
type Member struct {
	Name      string             `json:"name"`
	Kind      extract.Kind       `json:"kind"`
	Static    bool               `json:"static,omitempty"`
	Class     string             `json:"class"`
	Type      string             `json:"type,omitempty"`
	Location  Location           `json:"location"`
	Signature *extract.Signature `json:"signature,omitempty"`
}

// Members groups a class's members by kind.
type Members struct {
	Methods    []Member `json:"methods"`
	Properties []Member `json:"properties"`
	Constants  []Member `json:"constants"`
}

// Empty reports whether no members were found.
func (m Members) Empty() bool {
	return len(m.Methods) == 0 && len(m.Properties) == 0 && len(m.Constants) == 0
}

// Len is the total member count.
func (m Members) Len() int {
	return len(m.Methods) + len(m.Properties) + len(m.Constants)
}

// Entry pairs a key with one declaration it maps to.
type Entry struct {
	Key  string `json:"key"`
	Meta Meta   `json:"meta"`
}

// SearchResult is one fuzzy match from Search.
type SearchResult struct {
	Key       string     `json:"key"`
	Score     float64    `json:"score"`
	Kind      string     `json:"kind,omitempty"`
	Locations []Location `json:"locations"`
}

// Stats summarises the index.
type Stats struct {
	Files   int    `json:"files"`
	Keys    int    `json:"keys"`
	Classes int    `json:"classes"`
	Version uint64 `json:"version"`
	Built   bool   `json:"built"`
}

// Keys returns every key a symbol is reachable under:
//
//	Name, NS\Name                       classes, functions, global constants
//	Class::name, NS\Class::name         methods, class constants
//	Class::$name                        static properties
//	Class->name, Class->$name           instance properties
func Keys(sym extract.Symbol) []string {
	if sym.Container == "" {
		if sym.FQN == "" || sym.FQN == sym.Name {
			return []string{sym.Name}
		}
		return []string{sym.Name, sym.FQN}
	}

	containers := []string{sym.Container}
	if sym.ContainerFQN != "" && sym.ContainerFQN != sym.Container {
		containers = append(containers, sym.ContainerFQN)
	}
	var keys []string
	for _, c := range containers {
		switch {
		case sym.Kind == extract.KindProperty && sym.Static:
			keys = append(keys, c+"::$"+sym.Name)
		case sym.Kind == extract.KindProperty:
			keys = append(keys, c+"->"+sym.Name, c+"->$"+sym.Name)
		default:
			keys = append(keys, c+"::"+sym.Name)
		}
	}
	return keys
}

// SplitMemberKey splits Class::member or Class->member. The member keeps a
// leading '$' if it had one.
func SplitMemberKey(key string) (class, member, op string, ok bool) {
	for _, sep := range []string{"::", "->"} {
		if i := strings.LastIndex(key, sep); i > 0 {
			return key[:i], key[i+len(sep):], sep, true
		}
	}
	return "", "", "", false
}

func normalizeName(name string) string {
	return strings.TrimLeft(strings.TrimSpace(name), `\`)
}

func shortName(fqn string) string {
	return scan.ShortName(fqn)
}
