package config

import (
	"reflect"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of the config file. Every section is inlined since the
// drive and the file both name their struct Config. Durations are strings such as "150ms"
// and no key is required because missing keys keep their defaults.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == durationType {
				return &jsonschema.Schema{Type: "string", Description: "duration such as 150ms or 2s"}
			}
			return nil
		},
	}
	return r.Reflect(&Config{})
}
