package interpolation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// TagName marks fields to expand: `env_interpolation:"yes"`.
const TagName = "env_interpolation"

// Struct expands tagged string fields of the struct v points to, in place.
// Tagged fields may be strings, string slices, string-keyed string maps,
// nested structs or pointers to structs, or slices of those. Untagged
// struct fields are still descended into so nested tags apply.
func Struct(v any) error {
	return StructWith(v, nil)
}

// StructWith is Struct with a custom lookup; nil uses the environment.
func StructWith(v any, lookup LookupFunc) error {
	if v == nil {
		return nil
	}
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Pointer {
		return fmt.Errorf("expected pointer to struct, got %T", v)
	}
	if val.IsNil() {
		return nil
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("expected pointer to struct, got %T", v)
	}
	x := expander{lookup: lookup}
	return x.walkStruct(val, "")
}

type expander struct {
	lookup LookupFunc
}

func (x expander) expand(s string) (string, error) {
	if x.lookup == nil {
		return Expand(s)
	}
	return ExpandWith(s, x.lookup)
}

func (x expander) walkStruct(val reflect.Value, prefix string) error {
	typ := val.Type()
	var errs []error
	for i := range val.NumField() {
		field := val.Field(i)
		sf := typ.Field(i)
		if !field.CanSet() {
			continue
		}
		name := prefix + sf.Name
		tagged := strings.EqualFold(sf.Tag.Get(TagName), "yes")
		if err := x.walk(field, name, tagged); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (x expander) walk(field reflect.Value, name string, tagged bool) error {
	switch field.Kind() {
	case reflect.String:
		if !tagged || field.String() == "" {
			return nil
		}
		out, err := x.expand(field.String())
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		field.SetString(out)

	case reflect.Map:
		if !tagged || field.IsNil() ||
			field.Type().Key().Kind() != reflect.String ||
			field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var errs []error
		iter := field.MapRange()
		for iter.Next() {
			out, err := x.expand(iter.Value().String())
			if err != nil {
				errs = append(errs, fmt.Errorf("field %s[%s]: %w", name, iter.Key().String(), err))
				continue
			}
			field.SetMapIndex(iter.Key(), reflect.ValueOf(out).Convert(field.Type().Elem()))
		}
		return errors.Join(errs...)

	case reflect.Slice:
		var errs []error
		for j := range field.Len() {
			if err := x.walk(field.Index(j), fmt.Sprintf("%s[%d]", name, j), tagged); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	case reflect.Struct:
		return x.walkStruct(field, name+".")

	case reflect.Pointer:
		if field.IsNil() || field.Elem().Kind() != reflect.Struct {
			return nil
		}
		return x.walkStruct(field.Elem(), name+".")
	}
	return nil
}
