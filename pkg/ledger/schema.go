package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/genexbench/pkg/persist"
)

// documentSchema describes a ledger file: distance name -> list of records,
// each with a well-formed query object.
const documentSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "array",
    "items": {
      "type": "object",
      "required": ["query"],
      "properties": {
        "query": {
          "type": "object",
          "required": ["index", "start", "end", "outside"],
          "properties": {
            "index":   {"type": "integer", "minimum": 0},
            "start":   {"type": "integer", "minimum": 0},
            "end":     {"type": "integer", "minimum": 0},
            "outside": {"type": "integer", "enum": [0, 1]}
          }
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
})

// validatingCodec rejects ledger files that do not match documentSchema
// before decoding them.
type validatingCodec struct {
	persist.JSONCodec
}

// Decode validates the whole document, then decodes it.
func (c *validatingCodec) Decode(r io.Reader, state any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile ledger schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrCorrupt, strings.Join(msgs, "; "))
	}

	err = json.NewDecoder(bytes.NewReader(data)).Decode(state)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return nil
}
