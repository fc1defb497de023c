package packet

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Charset converts strings between the client code page and UTF-8.
// Localised clients send names in their own code page (windows-1252 for GMS,
// euc-kr for KMS); the zero Charset passes bytes through unchanged.
type Charset struct {
	name string
	enc  encoding.Encoding
}

// LookupCharset resolves a WHATWG encoding label. "" and "utf-8" are raw.
func LookupCharset(name string) (Charset, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "utf-8" || name == "utf8" {
		return Charset{name: "utf-8"}, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return Charset{}, fmt.Errorf("unknown client charset %q: %w", name, err)
	}
	return Charset{name: name, enc: enc}, nil
}

// Name returns the charset label.
func (c Charset) Name() string {
	if c.name == "" {
		return "utf-8"
	}
	return c.name
}

// Decode converts a client string to UTF-8. Pure ASCII passes through.
func (c Charset) Decode(s string) string {
	if c.enc == nil || isASCII(s) {
		return s
	}
	out, err := c.enc.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

// Encode converts a UTF-8 string to the client code page.
func (c Charset) Encode(s string) string {
	if c.enc == nil || isASCII(s) {
		return s
	}
	out, err := c.enc.NewEncoder().String(s)
	if err != nil {
		return s
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
