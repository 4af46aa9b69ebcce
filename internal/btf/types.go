// Package btf adapts the kernel Type Database (BTF) into the type graph the
// metadata filter compiler walks: struct/union member chains, pointers,
// arrays, enums, and the transparent qualifier/typedef wrappers the kernel
// emits around them.
package btf

// Kind identifies the shape of a Type node.
type Kind int

const (
	KindInt Kind = iota
	KindPointer
	KindArray
	KindStruct
	KindUnion
	KindEnum
	KindEnum64
	KindTypedef
	KindConst
	KindVolatile
	KindRestrict
	KindDeclTag
	KindTypeTag
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindPointer:
		return "pointer"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	case KindEnum:
		return "enum"
	case KindEnum64:
		return "enum64"
	case KindTypedef:
		return "typedef"
	case KindConst:
		return "const"
	case KindVolatile:
		return "volatile"
	case KindRestrict:
		return "restrict"
	case KindDeclTag:
		return "decl_tag"
	case KindTypeTag:
		return "type_tag"
	default:
		return "unknown"
	}
}

// Type is the common interface satisfied by every node in the type graph.
type Type interface {
	Kind() Kind
	TypeName() string
}

// transparent reports whether walking must look through t to its target
// without consuming a step of the filter's dotted field chain.
func transparent(t Type) bool {
	switch t.Kind() {
	case KindConst, KindVolatile, KindRestrict, KindDeclTag, KindTypeTag, KindTypedef:
		return true
	default:
		return false
	}
}

// skip follows every transparent wrapper around t and returns the first
// structurally meaningful type (Int, Pointer, Array, Struct, Union, Enum,
// Enum64). It mirrors the original compiler's habit of resolving through
// typedef/const/volatile/restrict/decl_tag/type_tag chains before acting.
func skip(t Type) Type {
	for t != nil && transparent(t) {
		t = target(t)
	}
	return t
}

func target(t Type) Type {
	switch v := t.(type) {
	case *Typedef:
		return v.Target
	case *Const:
		return v.Target
	case *Volatile:
		return v.Target
	case *Restrict:
		return v.Target
	case *DeclTag:
		return v.Target
	case *TypeTag:
		return v.Target
	default:
		return nil
	}
}

// Int is an integer leaf type: char, short, int, long, bool, etc.
type Int struct {
	Name     string
	SizeBits uint32
	Signed   bool
	IsBool   bool
}

func (t *Int) Kind() Kind      { return KindInt }
func (t *Int) TypeName() string { return t.Name }

// SizeBytes returns the type's size rounded up from bits (BTF stores int
// size in bytes already for whole-byte widths, but bitfield members carry
// their true width separately via Member.BitfieldSize).
func (t *Int) SizeBytes() uint32 { return (t.SizeBits + 7) / 8 }

// Pointer is a single level of indirection to Target.
type Pointer struct {
	Target Type
}

func (t *Pointer) Kind() Kind      { return KindPointer }
func (t *Pointer) TypeName() string { return "" }

// Array is a fixed-length repetition of Elem.
type Array struct {
	Elem  Type
	Nelem uint32
}

func (t *Array) Kind() Kind      { return KindArray }
func (t *Array) TypeName() string { return "" }

// Member is one field of a Struct or Union. Name is empty for an anonymous
// inner struct/union, which the filter compiler must recurse into
// transparently when resolving a dotted field name.
type Member struct {
	Name         string
	BitOffset    uint32
	BitfieldSize uint32
	Type         Type
}

// Struct is a named or anonymous struct type.
type Struct struct {
	Name     string
	SizeBits uint32
	Members  []Member
}

func (t *Struct) Kind() Kind      { return KindStruct }
func (t *Struct) TypeName() string { return t.Name }

// Union is a named or anonymous union type.
type Union struct {
	Name     string
	SizeBits uint32
	Members  []Member
}

func (t *Union) Kind() Kind      { return KindUnion }
func (t *Union) TypeName() string { return t.Name }

// Enum is a 4-byte enumeration.
type Enum struct {
	Name   string
	Signed bool
}

func (t *Enum) Kind() Kind      { return KindEnum }
func (t *Enum) TypeName() string { return t.Name }

// Enum64 is an 8-byte enumeration (BTF_KIND_ENUM64).
type Enum64 struct {
	Name   string
	Signed bool
}

func (t *Enum64) Kind() Kind      { return KindEnum64 }
func (t *Enum64) TypeName() string { return t.Name }

// Typedef is a transparent alias for Target.
type Typedef struct {
	Name   string
	Target Type
}

func (t *Typedef) Kind() Kind      { return KindTypedef }
func (t *Typedef) TypeName() string { return t.Name }

// Const, Volatile, and Restrict are transparent qualifiers.
type Const struct{ Target Type }

func (t *Const) Kind() Kind      { return KindConst }
func (t *Const) TypeName() string { return "" }

type Volatile struct{ Target Type }

func (t *Volatile) Kind() Kind      { return KindVolatile }
func (t *Volatile) TypeName() string { return "" }

type Restrict struct{ Target Type }

func (t *Restrict) Kind() Kind      { return KindRestrict }
func (t *Restrict) TypeName() string { return "" }

// DeclTag and TypeTag are transparent BTF annotation wrappers.
type DeclTag struct{ Target Type }

func (t *DeclTag) Kind() Kind      { return KindDeclTag }
func (t *DeclTag) TypeName() string { return "" }

type TypeTag struct{ Target Type }

func (t *TypeTag) Kind() Kind      { return KindTypeTag }
func (t *TypeTag) TypeName() string { return "" }
