package pim

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// substitutePhoto replaces the PHOTO field's value with a numeric
// checksum (sum of the decoded bytes) when the photo is embedded
// (base64) or referenced by a file:// URI. Non-local URIs (http(s),
// etc.) keep their URL form untouched. A malformed PHOTO field (more
// than one "value" param, an unknown encoding, or neither an encoding
// nor a value param) rejects the whole item.
//
// Decoding uses the standard library's encoding/base64 rather than a
// third-party codec.
func substitutePhoto(fields Fields) error {
	photo, ok := fields["photo"]
	if !ok || len(photo.Values) == 0 {
		return nil
	}
	fv := photo.Values[0]

	if values, ok := fv.Params["value"]; ok {
		if len(values) != 1 {
			return fmt.Errorf("pim: %w: PHOTO has multiple value params", ErrMalformed)
		}
		if !strings.Contains(fv.Value, "file://") {
			// Non-local URI (e.g. http://): keep URL form as-is.
			return nil
		}
	} else if encs, ok := fv.Params["encoding"]; ok {
		if !(len(encs) == 1 && strings.EqualFold(encs[0], "b")) {
			return fmt.Errorf("pim: %w: PHOTO has unknown encoding", ErrMalformed)
		}
	} else {
		return fmt.Errorf("pim: %w: PHOTO has neither encoding nor value param", ErrMalformed)
	}

	sum, err := photoChecksum(fv)
	if err != nil {
		return fmt.Errorf("pim: %w: PHOTO checksum: %v", ErrMalformed, err)
	}

	photo.Values = []FieldValue{{Value: strconv.FormatUint(sum, 10)}}
	return nil
}

func photoChecksum(fv FieldValue) (uint64, error) {
	if values, ok := fv.Params["value"]; ok && len(values) == 1 {
		path := strings.TrimPrefix(fv.Value, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		return sumBytes(data), nil
	}

	data, err := base64.StdEncoding.DecodeString(stripWhitespace(fv.Value))
	if err != nil {
		return 0, err
	}
	return sumBytes(data), nil
}

func sumBytes(b []byte) uint64 {
	var sum uint64
	for _, c := range b {
		sum += uint64(c)
	}
	return sum
}

func stripWhitespace(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
