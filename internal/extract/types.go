// Package extract turns one PHP file's text into flat symbol records.
package extract

import (
	"strings"

	"phpscope/internal/scan"
)

// Kind is the kind of a declared symbol.
type Kind string

const (
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
	KindTrait     Kind = "trait"
	KindEnum      Kind = "enum"
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindProperty  Kind = "property"
	KindConstant  Kind = "constant"
)

// IsType reports whether k declares a class-like type.
func (k Kind) IsType() bool {
	switch k {
	case KindClass, KindInterface, KindTrait, KindEnum:
		return true
	}
	return false
}

// Position is a zero-based line and byte column.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a half-open source range.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Param describes one callable parameter.
type Param struct {
	Name     string `json:"name"` // without '$'
	Type     string `json:"type,omitempty"`
	Variadic bool   `json:"variadic,omitempty"`
	ByRef    bool   `json:"by_ref,omitempty"`
	Default  string `json:"default,omitempty"`
}

func (p Param) String() string {
	var b strings.Builder
	if p.Type != "" {
		b.WriteString(p.Type)
		b.WriteByte(' ')
	}
	if p.ByRef {
		b.WriteByte('&')
	}
	if p.Variadic {
		b.WriteString("...")
	}
	b.WriteByte('$')
	b.WriteString(p.Name)
	if p.Default != "" {
		b.WriteString(" = ")
		b.WriteString(p.Default)
	}
	return b.String()
}

// Signature is the display form of a callable.
type Signature struct {
	Name       string  `json:"name"`
	Label      string  `json:"label"`
	Params     []Param `json:"params"`
	ReturnType string  `json:"return_type,omitempty"`
	// ResolvedReturn is ReturnType qualified against the declaring file,
	// with nullability stripped and self/static replaced by the container.
	ResolvedReturn string `json:"resolved_return,omitempty"`
	Doc            string `json:"doc,omitempty"`
}

// FormatLabel renders name(params): ret.
func FormatLabel(name string, params []Param, ret string) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.String()
	}
	label := name + "(" + strings.Join(parts, ", ") + ")"
	if ret != "" {
		label += ": " + ret
	}
	return label
}

// Class is a class-like declaration with its brace-matched body.
type Class struct {
	Name       string
	FQN        string
	Kind       Kind
	Namespace  string
	Extends    string   // fully qualified, "" when absent
	Implements []string // fully qualified
	Offset     int
	Range      Range
	Body       scan.Span
}

// Symbol is one extracted declaration.
type Symbol struct {
	Name string // short name; properties carry no '$'
	// FQN is the namespace-qualified name for types, functions and global
	// constants. Members leave it empty and use ContainerFQN.
	FQN          string
	Kind         Kind
	Container    string
	ContainerFQN string
	Static       bool
	Type         string // declared property type, if any
	ResolvedType string // Type qualified like Signature.ResolvedReturn
	Offset       int
	Range        Range
	Signature    *Signature
}

// File is the extraction result for one source text.
type File struct {
	Namespace string
	Aliases   map[string]string
	Classes   []Class
	Symbols   []Symbol

	namespaces []scan.NamespaceDecl
}

// NamespaceAt returns the namespace in effect at offset.
func (f *File) NamespaceAt(offset int) string {
	return scan.NamespaceAt(f.namespaces, offset)
}

// Resolve qualifies a class-like name written at offset.
func (f *File) Resolve(name string, offset int) string {
	return scan.ResolveName(name, f.NamespaceAt(offset), f.Aliases)
}

// ClassAt returns the class whose body contains offset.
func (f *File) ClassAt(offset int) *Class {
	for i := range f.Classes {
		if f.Classes[i].Body.Contains(offset) {
			return &f.Classes[i]
		}
	}
	return nil
}

// ClassNamed returns the class declared in this file with the given short or
// fully-qualified name.
func (f *File) ClassNamed(name string) *Class {
	name = strings.TrimLeft(name, `\`)
	for i := range f.Classes {
		if f.Classes[i].Name == name || f.Classes[i].FQN == name {
			return &f.Classes[i]
		}
	}
	return nil
}
