package envelope

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

const SchemaName = "codeact_response"

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaMap  map[string]interface{}
	schemaDoc  *gojsonschema.Schema
)

func loadSchema() {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(&Envelope{})
	s.Version = ""
	s.ID = ""

	b, err := json.Marshal(s)
	if err != nil {
		log.Error().Err(err).Msg("could not marshal envelope schema")
		return
	}
	schemaJSON = b
	if err := json.Unmarshal(b, &schemaMap); err != nil {
		log.Error().Err(err).Msg("could not decode envelope schema")
	}
	schemaDoc, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
	if err != nil {
		log.Error().Err(err).Msg("could not compile envelope schema")
	}
}

// Schema returns the JSON schema of the envelope, reflected from Envelope.
func Schema() map[string]interface{} {
	schemaOnce.Do(loadSchema)
	return schemaMap
}

// SchemaJSON is Schema serialized.
func SchemaJSON() []byte {
	schemaOnce.Do(loadSchema)
	return schemaJSON
}

// Validate checks a decoded envelope against the schema and returns the
// violations, if any. Violations never stop processing.
func Validate(raw map[string]interface{}) []string {
	schemaOnce.Do(loadSchema)
	if schemaDoc == nil {
		return nil
	}
	result, err := schemaDoc.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	ret := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		ret = append(ret, e.String())
	}
	return ret
}
