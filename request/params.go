package request

import (
	"encoding/json"
	"strings"
)

// CharSet is the set of bytes left unescaped by [PercentEncode]
type CharSet struct {
	allowed [256]bool
}

// NewCharSet returns a set allowing exactly the bytes in chars
func NewCharSet(chars string) CharSet {
	var cs CharSet
	for i := 0; i < len(chars); i++ {
		cs.allowed[chars[i]] = true
	}
	return cs
}

// With returns a copy of cs also allowing chars
func (cs CharSet) With(chars string) CharSet {
	for i := 0; i < len(chars); i++ {
		cs.allowed[chars[i]] = true
	}
	return cs
}

// Without returns a copy of cs no longer allowing chars
func (cs CharSet) Without(chars string) CharSet {
	for i := 0; i < len(chars); i++ {
		cs.allowed[chars[i]] = false
	}
	return cs
}

func (cs CharSet) Allows(b byte) bool {
	return cs.allowed[b]
}

const alphanumerics = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	// URLHostAllowed is the set of characters legal in a URL host subcomponent
	URLHostAllowed = NewCharSet(alphanumerics + "!$&'()*+,-.;=[]_~")

	// QueryAllowed is the host safe set plus ':' used for query and form parameters.
	// '&', '=', '+' and ';' are removed so keys and values containing them survive
	// the round trip through a query string.
	QueryAllowed = URLHostAllowed.With(":").Without("&=+;")
)

const upperhex = "0123456789ABCDEF"

// PercentEncode escapes every byte of s not in allowed as %XX
func PercentEncode(s string, allowed CharSet) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if allowed.Allows(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperhex[c>>4])
		sb.WriteByte(upperhex[c&15])
	}
	return sb.String()
}

// Param is a single key/value pair
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of key/value pairs. Order is preserved on the wire.
type Params []Param

// Add appends a pair and returns the extended list
func (p Params) Add(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// Get returns the first value for key
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Encode renders "k1=v1&k2=v2" with keys and values percent-encoded using allowed
func (p Params) Encode(allowed CharSet) string {
	parts := make([]string, 0, len(p))
	for _, kv := range p {
		parts = append(parts, PercentEncode(kv.Key, allowed)+"="+PercentEncode(kv.Value, allowed))
	}
	return strings.Join(parts, "&")
}

// MarshalJSON renders the pairs as a JSON object in list order.
// Duplicate keys are written as given; the last one wins for most decoders.
func (p Params) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, kv := range p {
		if i > 0 {
			sb.WriteByte(',')
		}
		k, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		sb.Write(k)
		sb.WriteByte(':')
		sb.Write(v)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}
