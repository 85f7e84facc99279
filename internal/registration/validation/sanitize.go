package validation

import (
	"reflect"
	"strings"
)

// sanitize trims whitespace from string, *string and []string fields of a
// struct in place.
func sanitize(v any) {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return
	}

	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		if !field.CanSet() {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(strings.TrimSpace(field.String()))
		case reflect.Ptr:
			if !field.IsNil() && field.Elem().Kind() == reflect.String {
				trimmed := strings.TrimSpace(field.Elem().String())
				field.Set(reflect.ValueOf(&trimmed))
			}
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String && !field.IsNil() {
				// copy so the caller's slice is left untouched
				cp := reflect.MakeSlice(field.Type(), field.Len(), field.Len())
				for j := 0; j < field.Len(); j++ {
					cp.Index(j).SetString(strings.TrimSpace(field.Index(j).String()))
				}
				field.Set(cp)
			}
		}
	}
}
