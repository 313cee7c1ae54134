package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/danstonedev/EMRsim-chat-sub004/core/relay"
	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const payloadSchemaName = "relay-payload.schema.json"

var printer = message.NewPrinter(language.English)

// PayloadSchema describes the JSON body posted to the webhook.
func PayloadSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	return reflector.Reflect(&relay.Payload{})
}

var compiledPayloadSchema = sync.OnceValues(func() (*validator.Schema, error) {
	raw, err := json.Marshal(PayloadSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload schema: %w", err)
	}
	doc, err := validator.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse payload schema: %w", err)
	}

	compiler := validator.NewCompiler()
	if err := compiler.AddResource(payloadSchemaName, doc); err != nil {
		return nil, fmt.Errorf("failed to add payload schema resource: %w", err)
	}
	schema, err := compiler.Compile(payloadSchemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to compile payload schema: %w", err)
	}
	return schema, nil
})

// ValidatePayload returns the schema violations of payload, if any.
func ValidatePayload(payload relay.Payload) []string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return []string{fmt.Sprintf("marshal: %v", err)}
	}
	return ValidateJSON(raw)
}

// ValidateJSON validates a raw JSON document against the payload schema.
func ValidateJSON(raw []byte) []string {
	schema, err := compiledPayloadSchema()
	if err != nil {
		return []string{err.Error()}
	}

	instance, err := validator.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return []string{fmt.Sprintf("JSON parse error: %v", err)}
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	validationErr, ok := err.(*validator.ValidationError)
	if !ok {
		return []string{fmt.Sprintf("schema: %v", err)}
	}

	var problems []string
	collectProblems(validationErr, &problems)
	return problems
}

func collectProblems(validationErr *validator.ValidationError, problems *[]string) {
	if len(validationErr.Causes) == 0 {
		location := "/" + strings.Join(validationErr.InstanceLocation, "/")
		*problems = append(*problems, fmt.Sprintf("%s: %s", location, validationErr.ErrorKind.LocalizedString(printer)))
		return
	}
	for _, cause := range validationErr.Causes {
		collectProblems(cause, problems)
	}
}
