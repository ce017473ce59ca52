package verify

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Category groups Arrow types that compare against each other. Widths
// within a category are compatible.
type Category string

const (
	CatInteger Category = "integer"
	CatFloat   Category = "float"
	CatText    Category = "text"
	CatBinary  Category = "binary"
	CatBool    Category = "bool"
	CatList    Category = "list"
	CatStruct  Category = "struct"
	CatOther   Category = "other"
)

// unwrap strips dictionary and extension encodings down to the value type.
func unwrap(dt arrow.DataType) arrow.DataType {
	for {
		switch t := dt.(type) {
		case *arrow.DictionaryType:
			dt = t.ValueType
		case arrow.ExtensionType:
			dt = t.StorageType()
		default:
			return dt
		}
	}
}

// categoryOf returns the comparison category of a type.
func categoryOf(dt arrow.DataType) Category {
	switch unwrap(dt).ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return CatInteger
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return CatFloat
	case arrow.STRING, arrow.LARGE_STRING, arrow.STRING_VIEW:
		return CatText
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.BINARY_VIEW, arrow.FIXED_SIZE_BINARY:
		return CatBinary
	case arrow.BOOL:
		return CatBool
	case arrow.LIST, arrow.LARGE_LIST, arrow.FIXED_SIZE_LIST, arrow.LIST_VIEW, arrow.LARGE_LIST_VIEW:
		return CatList
	case arrow.STRUCT:
		return CatStruct
	}
	return CatOther
}

// elemType returns the element type of a list-like type.
func elemType(dt arrow.DataType) (arrow.DataType, bool) {
	if lt, ok := unwrap(dt).(arrow.ListLikeType); ok {
		return lt.Elem(), true
	}
	return nil, false
}

// signature describes a type down through its list levels; struct children
// are checked under their own paths.
func signature(dt arrow.DataType) string {
	c := categoryOf(dt)
	if c == CatList {
		el, _ := elemType(dt)
		return "list<" + signature(el) + ">"
	}
	return string(c)
}

// structOf returns the struct type reached through zero or more list
// levels.
func structOf(dt arrow.DataType) (*arrow.StructType, bool) {
	dt = unwrap(dt)
	for {
		if st, ok := dt.(*arrow.StructType); ok {
			return st, true
		}
		el, ok := elemType(dt)
		if !ok {
			return nil, false
		}
		dt = unwrap(el)
	}
}

var exactTypeNames = map[string]bool{
	"bool": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"float16": true, "float32": true, "float64": true,
	"utf8": true, "string": true, "large_utf8": true, "binary": true,
}

func knownTypeName(name string) bool {
	switch Category(name) {
	case CatInteger, CatFloat, CatText, CatBinary, CatBool, CatList, CatStruct:
		return true
	}
	return exactTypeNames[name]
}

// typeMatches reports whether dt satisfies a required type name.
func typeMatches(dt arrow.DataType, want string) bool {
	switch Category(want) {
	case CatInteger, CatFloat, CatText, CatBinary, CatBool, CatList, CatStruct:
		return categoryOf(dt) == Category(want)
	}
	name := unwrap(dt).String()
	if want == "string" {
		want = "utf8"
	}
	return name == want
}
