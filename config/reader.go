package config

import (
	"bytes"
	"encoding/json"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Read reads the config file at path, substitutes environment variables such as
// ${ABDRIVE_IMAGE} or ${ABDRIVE_IMAGE:-bot.eeprom} in it, applies the key=value overrides and validates the
// result. An empty path starts from the defaults.
func Read(path string, overrides []string) (*Config, error) {
	attrs := AttributeMap{}
	if path != "" {
		buf, err := envsubst.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "cannot read config file")
		}
		if attrs, err = readAttributes(bytes.NewReader(buf)); err != nil {
			return nil, errors.Wrapf(err, "cannot parse %s", path)
		}
	}
	return FromAttributes(attrs, overrides)
}

// FromReader reads a config from r. Unlike Read it does not substitute environment variables.
func FromReader(r io.Reader, overrides []string) (*Config, error) {
	attrs, err := readAttributes(r)
	if err != nil {
		return nil, err
	}
	return FromAttributes(attrs, overrides)
}

func readAttributes(r io.Reader) (AttributeMap, error) {
	attrs := AttributeMap{}
	if err := json.NewDecoder(r).Decode(&attrs); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return attrs, nil
}

// FromAttributes decodes attrs over the defaults after applying overrides of the form
// "drive.goto_speed_limit=32". Override values are strings and are converted to the type of
// the field they set.
func FromAttributes(attrs AttributeMap, overrides []string) (*Config, error) {
	for _, o := range overrides {
		key, value, ok := strings.Cut(o, "=")
		if !ok {
			return nil, errors.Errorf("override %q is not key=value", o)
		}
		if err := attrs.Set(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, errors.Wrapf(err, "override %q", o)
		}
	}

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &cfg,
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			castHook,
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(map[string]interface{}(attrs)); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// castHook converts strings and JSON numbers to the basic kind of the destination field.
func castHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from == to || to == durationType {
		return data, nil
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cast.ToInt64E(data)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return cast.ToUint64E(data)
	case reflect.Float32, reflect.Float64:
		return cast.ToFloat64E(data)
	case reflect.Bool:
		return cast.ToBoolE(data)
	case reflect.String:
		return cast.ToStringE(data)
	default:
		return data, nil
	}
}
