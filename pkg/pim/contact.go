package pim

import (
	"fmt"
	"strings"

	govcard "github.com/emersion/go-vcard"
)

// droppedContactFields are never retained on the parsed Item.
var droppedContactFields = map[string]bool{
	"begin":  true,
	"end":    true,
	"rev":    true,
	"uid":    true,
	"prodid": true,
}

func isEvolutionExt(name string) bool {
	return strings.HasPrefix(name, "x-evolution-")
}

// ParseContact parses a vCard 3.0 body into an Item of TypeContact,
// applying a fixed normalization: lower-case field
// names and values (except the PHOTO URI portion), drop begin/end/
// rev/uid/prodid/x-evolution-*, strip x- parameters, leave NOTE
// parameter-free, expand a 5-part N into n_family/n_given/n_middle/
// n_prefix/n_suffix, and substitute PHOTO with a checksum.
//
// The line-unfolding and name/value/parameter tokenization is done by
// go-vcard's Decoder (RFC 2425 §5.8.1 folding, RFC 6868 escaping);
// this function applies the PIM-model-specific normalization on top of
// that tokenized Card.
func ParseContact(raw []byte) (*Item, error) {
	if !strings.Contains(string(raw), "BEGIN:VCARD") || !strings.Contains(string(raw), "END:VCARD") {
		return nil, fmt.Errorf("pim: %w: vCard missing BEGIN/END markers", ErrMalformed)
	}

	dec := govcard.NewDecoder(strings.NewReader(normalizeCRLF(string(raw))))
	card, err := dec.Decode()
	if err != nil {
		return nil, fmt.Errorf("pim: parsing vCard: %w", err)
	}

	item := newItem(TypeContact)
	item.raw = string(raw)

	for rawName, flds := range card {
		name := strings.ToLower(rawName)
		if droppedContactFields[name] || isEvolutionExt(name) {
			continue
		}
		for _, f := range flds {
			fv := convertContactField(name, f)
			item.Fields.add(name, fv)
		}
	}

	expandName(item.Fields)

	if err := substitutePhoto(item.Fields); err != nil {
		return nil, err
	}

	item.Fields.finalize()
	return item, nil
}

func convertContactField(name string, f *govcard.Field) FieldValue {
	params := map[string][]string{}
	for pname, pvals := range f.Params {
		lp := strings.ToLower(pname)
		if strings.HasPrefix(lp, "x-") {
			continue
		}
		out := append([]string(nil), pvals...)
		params[lp] = out
	}

	if name == "note" {
		// NOTE is never parsed for parameters: keep the whole value
		// (lower-cased like any other), discard anything that looked
		// like a parameter.
		return FieldValue{Value: strings.ToLower(f.Value), Params: nil}
	}

	value := f.Value
	if name == "photo" {
		value = lowerPhotoValue(value)
	} else {
		value = strings.ToLower(value)
	}

	return FieldValue{Value: value, Params: params}
}

// lowerPhotoValue lower-cases everything except the URI portion of a
// PHOTO value, detected by "://" or the last ":" in the value.
func lowerPhotoValue(value string) string {
	cut := len(value)
	if idx := strings.Index(value, "://"); idx >= 0 {
		cut = idx
	} else if idx := strings.LastIndex(value, ":"); idx >= 0 {
		cut = idx
	}
	if cut >= len(value) {
		return strings.ToLower(value)
	}
	return strings.ToLower(value[:cut]) + value[cut:]
}

// expandName synthesizes n_family/n_given/n_middle/n_prefix/n_suffix
// from a structural N field with exactly five semicolon-separated
// parts.
func expandName(fields Fields) {
	n, ok := fields["n"]
	if !ok || len(n.Values) == 0 {
		return
	}
	parts := strings.Split(n.Values[0].Value, ";")
	if len(parts) != 5 {
		return
	}
	names := []string{"n_family", "n_given", "n_middle", "n_prefix", "n_suffix"}
	for i, label := range names {
		fields.add(label, FieldValue{Value: parts[i]})
	}
}

func normalizeCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	return s
}
