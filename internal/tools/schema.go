package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// Parameter declares one named tool argument.
type Parameter struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Description string    `json:"description" yaml:"description"`
	Required    bool      `json:"required" yaml:"required"`
}

// Schema is the model-facing description of a tool.
type Schema struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// ParametersJSON returns the parameter schema as a JSON object.
func (s Schema) ParametersJSON() (map[string]any, error) {
	b, err := json.Marshal(s.Parameters)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func buildSchema(d Definition) Schema {
	props := make(map[string]*jsonschema.Schema, len(d.Parameters))
	var required []string
	for _, p := range d.Parameters {
		props[p.Name] = &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return Schema{
		Name:        d.Name,
		Description: d.Description,
		Parameters: &jsonschema.Schema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

// ConvertArgs converts raw runtime arguments to the declared parameters.
// Declared parameters are coerced to their type; a missing required parameter
// is an error. Undeclared keys are kept as best-effort strings; null values
// count as absent for both.
func ConvertArgs(params []Parameter, raw map[string]any) (Args, error) {
	out := make(Args, len(raw))
	declared := make(map[string]struct{}, len(params))
	for _, p := range params {
		declared[p.Name] = struct{}{}
		x, ok := raw[p.Name]
		if !ok || x == nil {
			if p.Required {
				return nil, argumentError{param: p.Name, reason: "missing required parameter"}
			}
			continue
		}
		v, err := FromAny(x)
		if err != nil {
			return nil, argumentError{param: p.Name, reason: err.Error()}
		}
		cv, err := coerce(v, p.Type)
		if err != nil {
			return nil, argumentError{param: p.Name, reason: err.Error()}
		}
		out[p.Name] = cv
	}
	for k, x := range raw {
		if _, ok := declared[k]; ok || x == nil {
			continue
		}
		v, err := FromAny(x)
		if err != nil {
			return nil, argumentError{param: k, reason: err.Error()}
		}
		out[k] = String(v.Text())
	}
	return out, nil
}

func coerce(v Value, t ParamType) (Value, error) {
	switch t {
	case TypeString:
		if v.Kind() == KindString {
			return v, nil
		}
		if v.Kind() == KindNumber || v.Kind() == KindBool {
			return String(v.Text()), nil
		}
	case TypeNumber:
		switch v.Kind() {
		case KindNumber:
			return v, nil
		case KindString:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
			if err == nil {
				return Number(f), nil
			}
		}
	case TypeBoolean:
		switch v.Kind() {
		case KindBool:
			return v, nil
		case KindString:
			b, err := strconv.ParseBool(strings.TrimSpace(v.s))
			if err == nil {
				return Bool(b), nil
			}
		}
	case TypeArray:
		switch v.Kind() {
		case KindList:
			return v, nil
		case KindString:
			if jv, err := decodeJSONValue(v.s); err == nil && jv.Kind() == KindList {
				return jv, nil
			}
		}
	case TypeObject:
		switch v.Kind() {
		case KindMap:
			return v, nil
		case KindString:
			if jv, err := decodeJSONValue(v.s); err == nil && jv.Kind() == KindMap {
				return jv, nil
			}
		}
	default:
		return Value{}, fmt.Errorf("unknown parameter type %q", t)
	}
	return Value{}, fmt.Errorf("expected %s, got %s", t, v.Kind())
}

func decodeJSONValue(s string) (Value, error) {
	var v Value
	if err := json.NewDecoder(bytes.NewReader([]byte(s))).Decode(&v); err != nil {
		return Value{}, err
	}
	return v, nil
}
