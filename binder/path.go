package binder

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"
)

// Path binds router parameters into fields tagged `path:"name"`. The
// extractor is usually chi.URLParam. Supported field kinds: string, signed
// and unsigned integers, bool.
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor function is nil", ErrInvalidPath)
		}

		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
			return fmt.Errorf("%w: target must be a pointer to struct", ErrInvalidPath)
		}
		rv = rv.Elem()
		rt := rv.Type()

		for i := range rt.NumField() {
			sf := rt.Field(i)
			name, ok := sf.Tag.Lookup("path")
			if !ok || name == "-" || !sf.IsExported() {
				continue
			}
			value := extractor(r, name)
			if value == "" {
				continue
			}
			if err := setField(rv.Field(i), value); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidPath, name, err)
			}
		}
		return nil
	}
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
