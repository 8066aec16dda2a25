package ngsild

import (
	"encoding/json"
	"math"
	"strings"
)

// CoreContext is the ETSI NGSI-LD core @context attached to every created entity.
const CoreContext = "https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context.jsonld"

// Entity is a raw NGSI-LD entity document as sent to or received from the broker.
type Entity map[string]any

// Attributes is a partial entity used for attribute PATCH requests.
type Attributes map[string]any

// NewEntity starts an entity document with id, type and the core @context.
func NewEntity(id, entityType string) Entity {
	return Entity{
		"id":       id,
		"type":     entityType,
		"@context": []string{CoreContext},
	}
}

// Property wraps a value as an NGSI-LD Property.
func Property(value any) map[string]any {
	return map[string]any{"type": "Property", "value": value}
}

// DateTimeProperty wraps an ISO 8601 timestamp as a typed DateTime Property.
func DateTimeProperty(iso string) map[string]any {
	return Property(map[string]any{"@type": "DateTime", "@value": iso})
}

// ID returns the entity id, or "" when missing.
func (e Entity) ID() string {
	s, _ := e["id"].(string)
	return s
}

// Type returns the entity type, or "" when missing.
func (e Entity) Type() string {
	s, _ := e["type"].(string)
	return s
}

// ShortID returns the segment of the id after the last colon.
func (e Entity) ShortID() string {
	id := e.ID()
	if i := strings.LastIndex(id, ":"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Set adds or replaces an attribute and returns e for chaining.
func (e Entity) Set(name string, attr map[string]any) Entity {
	e[name] = attr
	return e
}

// PropertyValue returns the value of a Property attribute.
func (e Entity) PropertyValue(name string) (any, bool) {
	attr, ok := e[name].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := attr["value"]
	return v, ok
}

// StringProperty returns a string Property value.
func (e Entity) StringProperty(name string) (string, bool) {
	v, ok := e.PropertyValue(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntProperty returns an integral Property value. JSON numbers decode as
// float64 or json.Number; both are accepted when they hold a whole number.
func (e Entity) IntProperty(name string) (int, bool) {
	v, ok := e.PropertyValue(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
