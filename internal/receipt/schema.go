package receipt

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	xerrors "AgentReceipt/internal/errors"
)

const schemaURL = "https://agentreceipt.local/schemas/receipt.schema.json"

//go:embed receipt.schema.json
var schemaSource []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaSource)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks raw JSON against the receipt document schema.
func ValidateDocument(data []byte) error {
	schema, err := documentSchema()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "compile receipt schema")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidInput, err, "decode receipt document")
	}
	if err := schema.Validate(doc); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidInput, err, "receipt document does not match schema")
	}
	return nil
}

// ParseDocumentStrict validates data against the schema and the structural
// invariants before decoding it. Use it for documents from untrusted peers.
func ParseDocumentStrict(data []byte) (AgentReceipt, error) {
	if err := ValidateDocument(data); err != nil {
		return AgentReceipt{}, err
	}
	r, err := ParseDocument(data)
	if err != nil {
		return AgentReceipt{}, err
	}
	if err := Validate(r); err != nil {
		return AgentReceipt{}, err
	}
	return r, nil
}
