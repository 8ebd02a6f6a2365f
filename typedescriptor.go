// Package taskforge type descriptor tree.
// Go strips parameter names and annotation metadata at compile time,
// so descriptor trees here are built explicitly by the caller
// registering a task (see registry.go's TaskSpec.Parameters) rather
// than discovered through reflection. reflect is used only for the
// arity check in registry.go's Register, not for name/type recovery.
package taskforge

import "strings"

// DescriptorKind is the discriminator for a TypeDescriptor node.
type DescriptorKind string

const (
	KindStr      DescriptorKind = "str"
	KindInt      DescriptorKind = "int"
	KindFloat    DescriptorKind = "float"
	KindBool     DescriptorKind = "bool"
	KindDatetime DescriptorKind = "datetime"
	KindUnknown  DescriptorKind = "unknown"

	KindOptional DescriptorKind = "optional"
	KindUnion    DescriptorKind = "union"
	KindList     DescriptorKind = "list"
	KindTuple    DescriptorKind = "tuple"
	KindDict     DescriptorKind = "dict"
	KindLiteral  DescriptorKind = "literal"
	KindEnum     DescriptorKind = "enum"
)

// TypeDescriptor is one node of the type descriptor tree. Leaves
// (str/int/float/bool/datetime/unknown) have no Of/Choices/EnumName.
// Internal nodes set exactly the fields relevant to their Kind:
// optional/list wrap Of; union/tuple wrap Items; literal sets Choices;
// enum sets EnumName and Choices.
type TypeDescriptor struct {
	Kind     DescriptorKind
	Of       *TypeDescriptor
	Items    []*TypeDescriptor
	Choices  []interface{}
	EnumName string
}

// Str, Int, Float, Bool, Datetime, Unknown build the primitive leaves.
func Str() *TypeDescriptor      { return &TypeDescriptor{Kind: KindStr} }
func Int() *TypeDescriptor      { return &TypeDescriptor{Kind: KindInt} }
func Float() *TypeDescriptor    { return &TypeDescriptor{Kind: KindFloat} }
func Bool() *TypeDescriptor     { return &TypeDescriptor{Kind: KindBool} }
func Datetime() *TypeDescriptor { return &TypeDescriptor{Kind: KindDatetime} }
func Unknown() *TypeDescriptor  { return &TypeDescriptor{Kind: KindUnknown} }

// Optional, List wrap a single inner descriptor.
func Optional(of *TypeDescriptor) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindOptional, Of: of}
}

func List(of *TypeDescriptor) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindList, Of: of}
}

// Union, Tuple wrap a sequence of alternative/positional descriptors.
func Union(items ...*TypeDescriptor) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindUnion, Items: items}
}

func Tuple(items ...*TypeDescriptor) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindTuple, Items: items}
}

// Dict builds the dict leaf; taskforge does not track key/value types
// for dict parameters, matching the worker contract's map[string]any payloads.
func Dict() *TypeDescriptor {
	return &TypeDescriptor{Kind: KindDict}
}

// Literal builds a literal(values) node.
func Literal(choices ...interface{}) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindLiteral, Choices: choices}
}

// Enum builds an enum(name) node.
func Enum(name string, choices ...interface{}) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindEnum, EnumName: name, Choices: choices}
}

// ControlHint is the inferred UI control for a parameter.
type ControlHint string

const (
	ControlSelect ControlHint = "select"
	ControlEmail  ControlHint = "email"
	ControlSwitch ControlHint = "switch"
	ControlNumber ControlHint = "number"
	ControlText   ControlHint = "text"
)

// InferControl picks a UI control for a parameter: literal/enum wins
// first, then a name ending in "email", then bool, then numeric,
// falling through to plain text.
func InferControl(paramName string, t *TypeDescriptor) ControlHint {
	if t == nil {
		t = Unknown()
	}
	switch t.Kind {
	case KindLiteral, KindEnum:
		return ControlSelect
	}
	if strings.HasSuffix(strings.ToLower(paramName), "email") {
		return ControlEmail
	}
	switch t.Kind {
	case KindBool:
		return ControlSwitch
	case KindInt, KindFloat:
		return ControlNumber
	case KindOptional:
		if t.Of != nil {
			return InferControl(paramName, t.Of)
		}
	}
	return ControlText
}

// reservedParameterNames are excluded from UI generation — they are
// supplied by the worker host, not the operator.
var reservedParameterNames = map[string]bool{
	"context":   true,
	"config_id": true,
	"task_id":   true,
}

// IsReservedParameterName reports whether name is excluded from UI
// generation regardless of its declared type.
func IsReservedParameterName(name string) bool {
	return reservedParameterNames[name]
}
