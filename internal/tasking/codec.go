package tasking

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// resultSchemaURL is the resource name each compiled result schema is registered under.
const resultSchemaURL = "result-schema.json"

// SerializationContext is what a status codec needs to interpret inline
// result records: the owning stream and its compiled result schema.
//
// A nil context means records are carried through as opaque JSON.
type SerializationContext struct {
	StreamID Key
	schema   *jsonschema.Schema
}

// NewSerializationContext compiles the stream's result schema. A stream
// without a result schema yields a context that accepts any record.
func NewSerializationContext(streamID Key, stream *CommandStream) (*SerializationContext, error) {
	sc := &SerializationContext{StreamID: streamID}
	if stream == nil || len(stream.ResultSchema) == 0 {
		return sc, nil
	}
	schema, err := compileResultSchema(stream.ResultSchema)
	if err != nil {
		return nil, fmt.Errorf("compiling result schema of stream %s: %w", streamID, err)
	}
	sc.schema = schema
	return sc, nil
}

// compileResultSchema parses and compiles a JSON Schema document.
func compileResultSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the validator requires.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(resultSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(resultSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// checkRecords validates each inline record against the context's schema.
func (sc *SerializationContext) checkRecords(records []json.RawMessage) error {
	if sc == nil || sc.schema == nil {
		return nil
	}
	for i, rec := range records {
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(rec))
		if err != nil {
			return fmt.Errorf("%w: record %d: %v", ErrInvalidRecord, i, err)
		}
		if err := sc.schema.Validate(inst); err != nil {
			return fmt.Errorf("%w: record %d: %v", ErrInvalidRecord, i, err)
		}
	}
	return nil
}

func encodeStream(s *CommandStream) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding command stream: %w", err)
	}
	return data, nil
}

func decodeStream(data []byte) (*CommandStream, error) {
	var s CommandStream
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding command stream: %w", err)
	}
	return &s, nil
}

func encodeCommand(c *Command) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}
	return data, nil
}

func decodeCommand(data []byte) (*Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}
	return &c, nil
}

// encodeStatus serializes a status. With a context, inline records must
// satisfy the owning stream's result schema.
func encodeStatus(s *CommandStatus, sc *SerializationContext) ([]byte, error) {
	if s.Result != nil {
		if err := sc.checkRecords(s.Result.Records); err != nil {
			return nil, err
		}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding command status: %w", err)
	}
	return data, nil
}

// decodeStatus is the inverse of encodeStatus. With a context, records that
// no longer satisfy the stream's schema are a decoding failure.
func decodeStatus(data []byte, sc *SerializationContext) (*CommandStatus, error) {
	var s CommandStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding command status: %w", err)
	}
	if s.Result != nil {
		if err := sc.checkRecords(s.Result.Records); err != nil {
			return nil, fmt.Errorf("decoding command status: %w", err)
		}
	}
	return &s, nil
}
