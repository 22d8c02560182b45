package conf

/*
   conf wraps viper for the eligibility app. Configuration is sourced from an
   env file when one is present (local development) and from the process
   environment otherwise. Once loaded, the configuration is treated as
   immutable for the uptime of the application (tests excepted).
*/

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"testing"

	"github.com/spf13/viper"
)

// An instance of the viper struct containing the conf information. Only made
// accessible through the public functions of this package.
var envVars viper.Viper

const (
	configgood    uint8 = 0
	configbad     uint8 = 1
	noconfigfound uint8 = 2
)

var state uint8 = configgood

func setup(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("local")
	v.SetConfigType("env")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		state = configbad
	}
	return v
}

func init() {
	locations := []string{
		"/go/src/github.com/havenhealth/eligibility-app/shared_files/decrypted",
		"/etc/eligibility-app",
	}

	if success, loc := findEnv(locations); success {
		envVars = *setup(loc)
	} else {
		state = noconfigfound
	}
}

func findEnv(locations []string) (bool, string) {
	for _, loc := range locations {
		if _, err := os.Stat(loc + "/local.env"); err == nil {
			return true, loc
		}
	}
	return false, ""
}

// GetEnv retrieves the value stored in conf. If it does not exist, the empty
// string is returned.
func GetEnv(key string) string {
	if state == configgood {
		value := envVars.GetString(key)
		if value == "" {
			// The key may only exist in the process environment; copy it over
			// to conf to prevent additional OS calls.
			if v, ok := os.LookupEnv(key); ok {
				test := &testing.T{}
				_ = SetEnv(test, key, v)
				value = v
			}
		}
		return value
	}

	return os.Getenv(key)
}

// LookupEnv augments os.LookupEnv to look in the viper struct first.
func LookupEnv(key string) (string, bool) {
	if state == configgood {
		if value := envVars.Get(key); value != nil && value != "" {
			return value.(string), true
		}
		if v, exist := os.LookupEnv(key); exist {
			test := &testing.T{}
			_ = SetEnv(test, key, v)
			return v, exist
		}
		return "", false
	}

	return os.LookupEnv(key)
}

// SetEnv adds key values into conf. This function should only be used either
// in this package itself or in testing. The protect parameter is of type
// *testing.T to ensure developers knowingly use it in the appropriate scope.
func SetEnv(protect *testing.T, key string, value string) error {
	var err error
	if state == configgood {
		envVars.Set(key, value)
	} else {
		err = os.Setenv(key, value)
	}
	return err
}

// UnsetEnv "unsets" a variable. Like SetEnv, this should only be used either
// in this package itself or in testing.
func UnsetEnv(protect *testing.T, key string) error {
	if state == configgood {
		envVars.Set(key, "")
	}
	return os.Unsetenv(key)
}

// Checkout populates the exported fields of the struct pointed to by v from
// conf. The lookup key for each field is the field name, overridden by a
// `conf` tag; a `conf_default` tag supplies the value when the key is unset.
// Fields tagged `conf:"-"` are skipped. Supported kinds are string, int,
// bool, float64, and nested structs. A []string may also be passed, in which
// case each element is treated as a key and replaced with its value.
func Checkout(v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		slice, ok := v.([]string)
		if !ok {
			return fmt.Errorf("conf: unsupported slice type %T", v)
		}
		for i, key := range slice {
			slice[i] = GetEnv(key)
		}
		return nil
	}
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("conf: expected a pointer to a struct, got %T", v)
	}
	return checkoutStruct(rv.Elem())
}

func checkoutStruct(rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := checkoutStruct(field); err != nil {
				return err
			}
			continue
		}

		tag := rt.Field(i).Tag
		key := tag.Get("conf")
		if key == "-" {
			continue
		}
		if key == "" {
			key = rt.Field(i).Name
		}

		value, ok := LookupEnv(key)
		if !ok || value == "" {
			value = tag.Get("conf_default")
		}
		if value == "" {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(value)
		case reflect.Int, reflect.Int64:
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("conf: field %s: %v", rt.Field(i).Name, err)
			}
			field.SetInt(parsed)
		case reflect.Bool:
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("conf: field %s: %v", rt.Field(i).Name, err)
			}
			field.SetBool(parsed)
		case reflect.Float64:
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("conf: field %s: %v", rt.Field(i).Name, err)
			}
			field.SetFloat(parsed)
		default:
			return fmt.Errorf("conf: unsupported field kind %s", field.Kind())
		}
	}
	return nil
}
