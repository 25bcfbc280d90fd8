package mediafs

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Identifier is an opaque, reversible encoding of a [Path]
type Identifier string

// RootIdentifier is the reserved identifier of the tree root.
// '.' is outside the base64url alphabet so [Encode] can never produce it.
const RootIdentifier Identifier = ".root"

var idEncoding = base64.RawURLEncoding

// Encode joins p with [PathDelimiter] and base64url encodes the result.
// The root has no encoding; use [IdentifierFor] when p may be the root.
func Encode(p Path) (Identifier, error) {
	if p.IsRoot() {
		return "", fmt.Errorf("cannot encode root path")
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	return encode(p), nil
}

// encode skips validation; callers guarantee a valid non-empty path
func encode(p Path) Identifier {
	return Identifier(idEncoding.EncodeToString([]byte(p.String())))
}

// Decode inverts [Encode]. The root identifier and anything that is not valid
// base64url of a well formed path return [ErrMalformedIdentifier].
func Decode(id Identifier) (Path, error) {
	if id == RootIdentifier {
		return nil, fmt.Errorf("%w: root identifier has no path", ErrMalformedIdentifier)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedIdentifier)
	}
	raw, err := idEncoding.DecodeString(string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedIdentifier, id, err)
	}
	p := Path(strings.Split(string(raw), PathDelimiter))
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedIdentifier, id, err)
	}
	return p, nil
}

// IdentifierFor returns [RootIdentifier] for the root and the encoded path otherwise.
// p must be valid; see [Path.Validate].
func IdentifierFor(p Path) Identifier {
	if p.IsRoot() {
		return RootIdentifier
	}
	return encode(p)
}

// PathFor is the inverse of [IdentifierFor]: the root identifier resolves to the root path
func PathFor(id Identifier) (Path, error) {
	if id == RootIdentifier {
		return nil, nil
	}
	return Decode(id)
}

func (id Identifier) IsRoot() bool {
	return id == RootIdentifier
}
