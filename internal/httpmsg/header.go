package httpmsg

import (
	"net/textproto"
	"strings"
)

// Storage policy for repeated header fields, RFC 7230 3.2.2.
type headerPolicy int

const (
	policySingle headerPolicy = iota
	policyMultiple
	policyCombine
)

var singleValueNames = map[string]bool{
	"Content-Length": true,
	"Content-Type":   true,
	"Date":           true,
	"Server":         true,
	"Location":       true,
	"Last-Modified":  true,
	"Expires":        true,
	"Etag":           true,
	"Host":           true,
	"Authorization":  true,
	"Referer":        true,
	"User-Agent":     true,
}

var multiValueNames = map[string]bool{
	"Set-Cookie":       true,
	"Www-Authenticate": true,
}

var combinableNames = map[string]bool{
	"Cache-Control":    true,
	"Content-Encoding": true,
	"Content-Language": true,
	"Allow":            true,
	"Pragma":           true,
	"Warning":          true,
}

func policyFor(canonical string) headerPolicy {
	switch {
	case singleValueNames[canonical]:
		return policySingle
	case multiValueNames[canonical]:
		return policyMultiple
	case combinableNames[canonical]:
		return policyCombine
	case strings.HasPrefix(canonical, "Accept"):
		return policyCombine
	case strings.HasPrefix(canonical, "X-"):
		return policyCombine
	}
	return policySingle
}

// Field is one stored header entry.
type Field struct {
	Name  string // canonical form
	Value string
}

// Header is an ordered header multimap applying the storage policy on Add.
type Header struct {
	fields []Field
}

// NewHeader returns an empty header map.
func NewHeader() *Header { return &Header{} }

func canonical(name string) string {
	return textproto.CanonicalMIMEHeaderKey(name)
}

func (h *Header) index(canonicalName string) int {
	for i := range h.fields {
		if h.fields[i].Name == canonicalName {
			return i
		}
	}
	return -1
}

// Add stores a field according to the repeated-occurrence policy of its name:
// single-value names replace, the special-multiple set keeps distinct entries,
// combinable names join with ", ".
func (h *Header) Add(name, value string) {
	cn := canonical(name)
	switch policyFor(cn) {
	case policyMultiple:
		h.fields = append(h.fields, Field{cn, value})
	case policyCombine:
		if i := h.index(cn); i >= 0 {
			h.fields[i].Value += ", " + value
			return
		}
		h.fields = append(h.fields, Field{cn, value})
	default:
		if i := h.index(cn); i >= 0 {
			h.fields[i].Value = value
			return
		}
		h.fields = append(h.fields, Field{cn, value})
	}
}

// Set replaces every occurrence of name with a single entry.
func (h *Header) Set(name, value string) {
	cn := canonical(name)
	h.Del(name)
	h.fields = append(h.fields, Field{cn, value})
}

// Del removes every occurrence of name.
func (h *Header) Del(name string) {
	cn := canonical(name)
	out := h.fields[:0]
	for _, f := range h.fields {
		if f.Name != cn {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Get returns the first value stored under name, or "".
func (h *Header) Get(name string) string {
	if i := h.index(canonical(name)); i >= 0 {
		return h.fields[i].Value
	}
	return ""
}

// Has reports whether name is present.
func (h *Header) Has(name string) bool {
	return h.index(canonical(name)) >= 0
}

// Values returns every value stored under name, in order.
func (h *Header) Values(name string) []string {
	cn := canonical(name)
	var out []string
	for _, f := range h.fields {
		if f.Name == cn {
			out = append(out, f.Value)
		}
	}
	return out
}

// Fields returns the stored entries in insertion order.
func (h *Header) Fields() []Field { return h.fields }

// Len is the number of stored entries.
func (h *Header) Len() int { return len(h.fields) }
