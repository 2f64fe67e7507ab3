// Package plist converts between property lists and the generic mappings
// that cross the bridge. XML is the default encoding; binary, OpenStep and
// GNUstep are selectable.
package plist

import (
	"fmt"

	hplist "howett.net/plist"

	"github.com/wippyai/device-bridge/errors"
)

// Format is a property list encoding.
type Format int

const (
	XML      = Format(hplist.XMLFormat)
	Binary   = Format(hplist.BinaryFormat)
	OpenStep = Format(hplist.OpenStepFormat)
	GNUStep  = Format(hplist.GNUStepFormat)
)

func (f Format) String() string {
	switch f {
	case XML:
		return "xml"
	case Binary:
		return "binary"
	case OpenStep:
		return "openstep"
	case GNUStep:
		return "gnustep"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParseFormat maps a format name to a Format. The empty name means XML.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "", "xml":
		return XML, nil
	case "binary", "bplist":
		return Binary, nil
	case "openstep":
		return OpenStep, nil
	case "gnustep":
		return GNUStep, nil
	}
	return 0, errors.New(errors.PhaseCodec, errors.KindInvalidRequest).
		Value(name).
		Detail("unknown plist format %q", name).
		Build()
}

// Encode serializes a mapping as a property list.
func Encode(v map[string]any, f Format) ([]byte, error) {
	if v == nil {
		v = map[string]any{}
	}
	if err := checkEncodable(v, nil); err != nil {
		return nil, err
	}
	data, err := hplist.Marshal(v, int(f))
	if err != nil {
		return nil, errors.Codec("plist encode failed", err)
	}
	return data, nil
}

// Decode parses a property list whose root is a dictionary and reports the
// encoding it was found in.
func Decode(data []byte) (map[string]any, Format, error) {
	var v any
	format, err := hplist.Unmarshal(data, &v)
	if err != nil {
		return nil, 0, errors.Codec("plist decode failed", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, 0, errors.Codec(fmt.Sprintf("plist root is %T, want dictionary", v), nil)
	}
	return m, Format(format), nil
}

// checkEncodable rejects values property lists cannot carry, so the error
// names the offending key instead of failing deep inside the encoder.
func checkEncodable(v any, path []string) error {
	switch x := v.(type) {
	case nil:
		return errors.New(errors.PhaseCodec, errors.KindInvalidRequest).
			Path(path...).
			Detail("plist cannot encode null").
			Build()
	case map[string]any:
		for k, e := range x {
			if err := checkEncodable(e, append(path, k)); err != nil {
				return err
			}
		}
	case []any:
		for i, e := range x {
			if err := checkEncodable(e, append(path, fmt.Sprint(i))); err != nil {
				return err
			}
		}
	}
	return nil
}
