package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the semantic hint an Observation carries for the policy engine's
// operator coercion.
type Kind string

const (
	KindText     Kind = "text"
	KindNumeric  Kind = "numeric"
	KindPassFail Kind = "pass_fail"
	KindBoolean  Kind = "boolean"
)

// Observation is a single typed fact produced by an analyzer. It models the
// source's duck-typed value as an explicit discriminated union: exactly one
// of the typed fields is meaningful, selected by Kind.
type Observation struct {
	Key  string
	Kind Kind

	text string
	num  float64
	flag bool
}

// Text builds a text observation (also used for pass_fail values such as
// "pass"/"fail"/"none").
func Text(key, value string) Observation {
	return Observation{Key: key, Kind: KindText, text: value}
}

// PassFail builds a pass_fail observation. Value is conventionally one of
// "pass", "fail", "none" (header not present).
func PassFail(key, value string) Observation {
	return Observation{Key: key, Kind: KindPassFail, text: value}
}

// Numeric builds a numeric observation.
func Numeric(key string, value float64) Observation {
	return Observation{Key: key, Kind: KindNumeric, num: value}
}

// Boolean builds a boolean observation.
func Boolean(key string, value bool) Observation {
	return Observation{Key: key, Kind: KindBoolean, flag: value}
}

// StringValue returns the observation's value coerced to its natural string
// form, regardless of Kind. Used by the policy engine's `contains` operator
// and by logging/serialisation.
func (o Observation) StringValue() string {
	switch o.Kind {
	case KindNumeric:
		return strconv.FormatFloat(o.num, 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(o.flag)
	default:
		return o.text
	}
}

// NumericValue returns the observation's value coerced to float64. ok is
// false when the underlying value has no sensible numeric form.
func (o Observation) NumericValue() (float64, bool) {
	switch o.Kind {
	case KindNumeric:
		return o.num, true
	case KindBoolean:
		if o.flag {
			return 1, true
		}
		return 0, true
	default:
		v, err := strconv.ParseFloat(strings.TrimSpace(o.text), 64)
		return v, err == nil
	}
}

// BoolValue returns the observation's value coerced to bool, with the same
// truthy-string coercion the reference policy engine applies to
// boolean-typed observation equality checks.
func (o Observation) BoolValue() bool {
	switch o.Kind {
	case KindBoolean:
		return o.flag
	case KindPassFail:
		return strings.EqualFold(o.text, "pass")
	default:
		switch strings.ToLower(strings.TrimSpace(o.text)) {
		case "true", "1", "yes", "pass":
			return true
		default:
			return false
		}
	}
}

type observationWire struct {
	Key   string      `json:"key"`
	Type  Kind        `json:"type"`
	Value interface{} `json:"value"`
}

// MarshalJSON emits {"key","type","value"} with value typed per Kind so the
// Observation<->JSON round-trip preserves (key, value, type) exactly.
func (o Observation) MarshalJSON() ([]byte, error) {
	w := observationWire{Key: o.Key, Type: o.Kind}
	switch o.Kind {
	case KindNumeric:
		w.Value = o.num
	case KindBoolean:
		w.Value = o.flag
	default:
		w.Value = o.text
	}
	return json.Marshal(w)
}

func (o *Observation) UnmarshalJSON(data []byte) error {
	var w observationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	o.Key = w.Key
	o.Kind = w.Type
	switch w.Type {
	case KindNumeric:
		n, ok := w.Value.(float64)
		if !ok {
			return fmt.Errorf("observation %q: expected numeric value, got %T", w.Key, w.Value)
		}
		o.num = n
	case KindBoolean:
		b, ok := w.Value.(bool)
		if !ok {
			return fmt.Errorf("observation %q: expected boolean value, got %T", w.Key, w.Value)
		}
		o.flag = b
	default:
		s, ok := w.Value.(string)
		if !ok {
			return fmt.Errorf("observation %q: expected string value, got %T", w.Key, w.Value)
		}
		o.text = s
	}
	return nil
}
