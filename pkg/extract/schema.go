package extract

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

type responseEntity struct {
	Name       string  `json:"name" jsonschema_description:"Surface form of the entity exactly as it appears in the text"`
	Type       string  `json:"type" jsonschema_description:"One of: Person, Company, Product, Event"`
	Confidence float64 `json:"confidence" jsonschema_description:"Extraction confidence between 0 and 1"`
}

type responseRelationship struct {
	Subject    string  `json:"subject" jsonschema_description:"Name of the subject entity, as identified in the entities list"`
	Predicate  string  `json:"predicate" jsonschema_description:"Short verb phrase naming the relationship, e.g. acquired, has ceo, partnered with"`
	Object     string  `json:"object" jsonschema_description:"Name of the object entity, as identified in the entities list"`
	Confidence float64 `json:"confidence" jsonschema_description:"Extraction confidence between 0 and 1"`
}

type extractResponse struct {
	Entities      []responseEntity       `json:"entities" jsonschema_description:"Entities identified in the news text"`
	Relationships []responseRelationship `json:"relationships" jsonschema_description:"Relationships between the identified entities"`
}

const systemPrompt = `You are an information extraction system for financial news.
Given a passage of news text, identify:
1. Entities: companies, people, products and events. Use the surface form from the text. Type must be one of Person, Company, Product, Event.
2. Relationships between those entities, such as acquisitions, ownership, investments, partnerships, executive roles, product launches, competition, lawsuits and supply agreements. Subject and object must match entity names from step 1.
Assign each item a confidence between 0 and 1. Report only what the text states. Do not invent entities or relationships.`

// GenerateSchema creates a JSON Schema from the given Go type for use
// with structured output.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// UnmarshalFlexible parses model-generated JSON, tolerating
// double-encoded strings and repairable malformations.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}

	if err := json.Unmarshal([]byte(repaired), out); err == nil {
		return nil
	}

	return fmt.Errorf(
		"unmarshal failed after repair: input=%s repaired=%s",
		input, repaired,
	)
}
