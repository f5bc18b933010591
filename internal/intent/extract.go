package intent

import (
	"bytes"
	"encoding/json"
	"net/mail"
	"slices"
	"strconv"
	"strings"

	"elena/agent/internal/types"
)

// maxCandidates bounds how many '{' positions are tried before giving up.
const maxCandidates = 8

type Defaults struct {
	Servicio string
	Duracion int
}

// Extractor turns assistant text into a BookingIntent. It holds no state
// beyond its defaults and is safe for concurrent use.
type Extractor struct {
	defaults Defaults
}

func New(d Defaults) *Extractor {
	if d.Duracion < 1 {
		d.Duracion = 1
	}
	return &Extractor{defaults: d}
}

// Extract has three outcomes besides a valid intent:
//   - nil, nil: the text carries no scheduling payload (including malformed JSON)
//   - &BookingIntent{Agendar: false}, nil: the model explicitly declined to book
//   - nil, *types.ValidationError: agendar was true but required fields are missing or malformed
func (x *Extractor) Extract(text string) (*types.BookingIntent, error) {
	raw, ok := FirstObject(text)
	if !ok {
		return nil, nil
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, nil
	}
	agRaw, ok := fields["agendar"]
	if !ok {
		return nil, nil
	}
	var agendar bool
	if err := json.Unmarshal(agRaw, &agendar); err != nil {
		return nil, nil
	}
	if !agendar {
		return &types.BookingIntent{Agendar: false}, nil
	}

	in := types.BookingIntent{Agendar: true}
	var missing, invalid []string

	str := func(key string, dst *string, required bool) {
		v, present, ok := stringField(fields, key)
		switch {
		case present && !ok:
			invalid = append(invalid, key)
		case v == "" && required:
			missing = append(missing, key)
		default:
			*dst = v
		}
	}
	str("nombre", &in.Nombre, true)
	str("fecha", &in.Fecha, true)
	str("hora", &in.Hora, true)
	str("email", &in.Email, false)
	str("telefono", &in.Telefono, false)
	str("servicio", &in.Servicio, false)

	if len(missing) > 0 {
		return nil, &types.ValidationError{Fields: missing, Reason: "missing"}
	}

	if !slices.Contains(invalid, "fecha") {
		if _, err := types.ParseDate(in.Fecha, nil); err != nil {
			invalid = append(invalid, "fecha")
		}
	}
	if !slices.Contains(invalid, "hora") {
		if h, err := types.NormalizeClock(in.Hora); err != nil {
			invalid = append(invalid, "hora")
		} else {
			in.Hora = h
		}
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			invalid = append(invalid, "email")
		}
	}
	if d, present, ok := intField(fields, "duracion"); present {
		if !ok || d < 1 {
			invalid = append(invalid, "duracion")
		} else {
			in.Duracion = d
		}
	}
	if len(invalid) > 0 {
		return nil, &types.ValidationError{Fields: invalid, Reason: "malformed"}
	}

	if in.Servicio == "" {
		in.Servicio = x.defaults.Servicio
	}
	if in.Duracion == 0 {
		in.Duracion = x.defaults.Duracion
	}
	return &in, nil
}

// FirstObject returns the first balanced {...} substring of text that decodes
// as a JSON object. Braces inside string literals are ignored.
func FirstObject(text string) (string, bool) {
	tried := 0
	for i := 0; i < len(text) && tried < maxCandidates; i++ {
		if text[i] != '{' {
			continue
		}
		tried++
		end := matchBrace(text, i)
		if end < 0 {
			continue
		}
		cand := text[i : end+1]
		if json.Valid([]byte(cand)) {
			return cand, true
		}
	}
	return "", false
}

// matchBrace returns the index of the '}' closing the '{' at start, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// stringField reports the trimmed value, whether the key was present and not
// null, and whether it was a string.
func stringField(f map[string]json.RawMessage, key string) (string, bool, bool) {
	raw, ok := f[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", false, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", true, false
	}
	return strings.TrimSpace(s), true, true
}

// intField accepts a whole JSON number or a numeric string.
func intField(f map[string]json.RawMessage, key string) (int, bool, bool) {
	raw, ok := f[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return 0, false, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, true, false
		}
		n = json.Number(strings.TrimSpace(s))
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return 0, true, false
	}
	return v, true, true
}
