package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/example/portscanner/internal/logger"
)

var (
	ErrDstMustBeNonNilPointer  = errors.New("dst must be a non-nil pointer")
	ErrDstMustBePointerToStrct = errors.New("dst must be a pointer to a struct")
)

// EnvLoader loads configuration from environment variables, walking nested
// struct fields via reflection. A field tagged `json:"foo_bar"` is read from
// the env var PREFIX + FOO_BAR; nested structs extend the prefix with an
// underscore.
type EnvLoader struct {
	Logger logger.Logger
	Prefix string
}

func NewEnvLoader(log logger.Logger, prefix string) *EnvLoader {
	return &EnvLoader{Logger: log, Prefix: prefix}
}

func (e *EnvLoader) Load(_ context.Context, _ string, dst interface{}) error {
	if full := os.Getenv(e.Prefix + "CONFIG_JSON"); full != "" {
		if err := json.Unmarshal([]byte(full), dst); err != nil {
			return fmt.Errorf("unmarshal %sCONFIG_JSON: %w", e.Prefix, err)
		}

		return nil
	}

	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeNonNilPointer
	}

	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return ErrDstMustBePointerToStrct
	}

	return e.loadStruct(v, e.Prefix)
}

func (e *EnvLoader) loadStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		jsonTag := fieldType.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}

		fieldName := strings.Split(jsonTag, ",")[0]
		envName := buildEnvName(prefix, fieldName)

		if err := e.setFieldValue(field, &fieldType, envName); err != nil && e.Logger != nil {
			e.Logger.Debug().Str("field", fieldName).Str("env", envName).Err(err).
				Msg("failed to set config field from environment")
		}
	}

	return nil
}

func buildEnvName(prefix, fieldName string) string {
	name := strings.ToUpper(fieldName)
	name = strings.ReplaceAll(name, ".", "_")

	return prefix + name
}

func (e *EnvLoader) setFieldValue(field reflect.Value, fieldType *reflect.StructField, envName string) error {
	if err := e.handleNestedStruct(field, envName); err != nil {
		return err
	}

	envValue := os.Getenv(envName)
	if envValue == "" {
		return nil
	}

	return e.setFieldByKind(field, fieldType, envName, envValue)
}

func (e *EnvLoader) handleNestedStruct(field reflect.Value, envName string) error {
	isStructPtr := field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct

	if field.Kind() != reflect.Struct && !isStructPtr {
		return nil
	}

	prefix := envName + "_"

	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}

		return e.loadStruct(field.Elem(), prefix)
	}

	return e.loadStruct(field, prefix)
}

func (e *EnvLoader) setFieldByKind(field reflect.Value, fieldType *reflect.StructField, envName, envValue string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Bool:
		b, err := strconv.ParseBool(envValue)
		if err != nil {
			return fmt.Errorf("invalid bool for %s: %w", envName, err)
		}

		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type().String() == "time.Duration" {
			d, err := time.ParseDuration(envValue)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", envName, err)
			}

			field.SetInt(int64(d))

			return nil
		}

		i, err := strconv.ParseInt(envValue, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid int for %s: %w", envName, err)
		}

		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(envValue, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid uint for %s: %w", envName, err)
		}

		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(envValue, 64)
		if err != nil {
			return fmt.Errorf("invalid float for %s: %w", envName, err)
		}

		field.SetFloat(f)
	case reflect.Slice:
		return e.setSliceField(field, envName, envValue)
	case reflect.Ptr:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}

		return e.setFieldValue(field.Elem(), fieldType, envName)
	default:
		if err := json.Unmarshal([]byte(envValue), field.Addr().Interface()); err != nil {
			return fmt.Errorf("unsupported type %s for %s: %w", field.Kind(), envName, err)
		}
	}

	return nil
}

func (e *EnvLoader) setSliceField(field reflect.Value, envName, envValue string) error {
	if field.Type().Elem().Kind() == reflect.String {
		parts := strings.Split(envValue, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))

		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}

		field.Set(slice)

		return nil
	}

	if err := json.Unmarshal([]byte(envValue), field.Addr().Interface()); err != nil {
		return fmt.Errorf("invalid slice for %s: %w", envName, err)
	}

	return nil
}
