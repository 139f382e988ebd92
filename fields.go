package cadastro

import (
	"strings"
)

// Field is a column the client understands regardless of its header spelling.
type Field string

const (
	FieldName     Field = "name"
	FieldEmail    Field = "email"
	FieldNotes    Field = "notes"
	FieldPhotoURL Field = "photo_url"
	FieldPhotoID  Field = "photo_id"
)

// DefaultAliases lists the header spellings seen in registration sheets.
var DefaultAliases = map[Field][]string{
	FieldName:     {"Nome", "nome", "Name", "name"},
	FieldEmail:    {"Email", "email", "E-mail", "e-mail"},
	FieldNotes:    {"Observações", "Observacoes", "observações", "observacoes", "Obs"},
	FieldPhotoURL: {"Imagem", "Foto", "FotoUrl", "fotoUrl", "ImageUrl", "imageUrl", "imagem", "foto"},
	FieldPhotoID:  {"FotoId", "fotoId", "ImageId", "imageId"},
}

// FieldMap is the alias table resolved against one tab's header row.
type FieldMap struct {
	headers  []string
	byField  map[Field]string
	byHeader map[string]bool
	byAlias  map[string]string // folded alias -> header
}

// ResolveFields matches headers against the alias table. The first alias
// that names an existing header wins; matching ignores case and accents.
func ResolveFields(headers []string, aliases map[Field][]string) *FieldMap {
	if aliases == nil {
		aliases = DefaultAliases
	}
	m := &FieldMap{
		headers:  append([]string(nil), headers...),
		byField:  make(map[Field]string),
		byHeader: make(map[string]bool, len(headers)),
		byAlias:  make(map[string]string),
	}

	folded := make(map[string]string, len(headers))
	for _, h := range headers {
		m.byHeader[h] = true
		if _, ok := folded[Fold(h)]; !ok {
			folded[Fold(h)] = h
		}
	}

	for field, names := range aliases {
		for _, name := range names {
			if m.byHeader[name] {
				m.byField[field] = name
				break
			}
		}
		if _, ok := m.byField[field]; !ok {
			for _, name := range names {
				if h, ok := folded[Fold(name)]; ok {
					m.byField[field] = h
					break
				}
			}
		}
		if h, ok := m.byField[field]; ok {
			for _, name := range names {
				m.byAlias[Fold(name)] = h
			}
			m.byAlias[Fold(string(field))] = h
		}
	}
	return m
}

// Headers returns the header row the map was built from.
func (m *FieldMap) Headers() []string {
	return append([]string(nil), m.headers...)
}

// Header returns the column that holds field.
func (m *FieldMap) Header(f Field) (string, bool) {
	h, ok := m.byField[f]
	return h, ok
}

// Value reads field from a record; "" when the tab has no such column.
func (m *FieldMap) Value(r *Record, f Field) string {
	h, ok := m.byField[f]
	if !ok {
		return ""
	}
	return r.Get(h)
}

// Column maps an input key to a header: exact header names first, then
// aliases of resolved fields. Unknown keys report false.
func (m *FieldMap) Column(key string) (string, bool) {
	if m.byHeader[key] {
		return key, true
	}
	h, ok := m.byAlias[Fold(strings.TrimSpace(key))]
	return h, ok
}

// Canonicalize rewrites an input field map onto header names, dropping
// keys that match no column.
func (m *FieldMap) Canonicalize(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	// exact header keys take precedence over aliases
	for k, v := range in {
		if m.byHeader[k] {
			out[k] = v
		}
	}
	for k, v := range in {
		if m.byHeader[k] {
			continue
		}
		if h, ok := m.Column(k); ok {
			if _, set := out[h]; !set {
				out[h] = v
			}
		}
	}
	return out
}
