package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// FieldType is the JSON value class a field must hold.
type FieldType int

const (
	TypeAny FieldType = iota
	TypeString
	TypeNumber
	TypeBool
	TypeObject
	TypeArray
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "bool"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	default:
		return "any"
	}
}

// Requirement constrains one field of a packet.
// Tag is a go-playground/validator tag applied to the field value; an empty
// tag only checks the type. Optional fields are checked only when present.
type Requirement struct {
	Field    string
	Type     FieldType
	Tag      string
	Optional bool
}

// VerificationError names the packet kind and the field that failed.
type VerificationError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *VerificationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: kind=%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("schema: kind=%s field=%s: %s", e.Kind, e.Field, e.Reason)
}

// Verifier checks the fields of one packet kind. It returns nil or a
// *VerificationError.
type Verifier func(kind string, fields map[string]any) error

var validate = validator.New()

// Rules builds a Verifier from requirements, evaluated in order.
// Unknown fields are ignored.
func Rules(reqs ...Requirement) Verifier {
	reqs = append([]Requirement(nil), reqs...)
	return func(kind string, fields map[string]any) error {
		return Validate(kind, fields, reqs)
	}
}

// Validate enforces required fields, field types and validator tags.
func Validate(kind string, fields map[string]any, reqs []Requirement) error {
	for _, req := range reqs {
		v, found := fields[req.Field]
		if !found || v == nil {
			if req.Optional {
				continue
			}
			log.Debug().Str("kind", kind).Str("field", req.Field).Msg("schema.Validate missing field")
			return &VerificationError{Kind: kind, Field: req.Field, Reason: "missing required field"}
		}
		if !typeMatches(req.Type, v) {
			log.Debug().
				Str("kind", kind).
				Str("field", req.Field).
				Str("want", req.Type.String()).
				Msg("schema.Validate type mismatch")
			return &VerificationError{Kind: kind, Field: req.Field, Reason: "type mismatch, want " + req.Type.String()}
		}
		if req.Tag == "" {
			continue
		}
		if err := validate.Var(v, req.Tag); err != nil {
			return &VerificationError{Kind: kind, Field: req.Field, Reason: tagReason(err)}
		}
	}
	return nil
}

// Fields lists the field names a requirement set mentions, sorted.
func Fields(reqs []Requirement) []string {
	out := make([]string, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, req.Field)
	}
	sort.Strings(out)
	return out
}

func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int64, int32, uint, uint64, uint32:
			return true
		}
		return false
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

func tagReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		return "failed " + fe.Tag()
	}
	return err.Error()
}
