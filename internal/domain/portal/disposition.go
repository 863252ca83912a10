package portal

import (
	"strings"
)

const defaultFileName = "file"

// contentDisposition builds a Content-Disposition value with an ASCII
// fallback filename and the RFC 5987 UTF-8 form.
func contentDisposition(kind, name string) string {
	if strings.TrimSpace(name) == "" {
		name = defaultFileName
	}
	return kind + `; filename="` + asciiFallback(name) + `"; filename*=UTF-8''` + encodeRFC5987(name)
}

// encodeRFC5987 percent-encodes everything outside the RFC 5987 attr-char
// set.
func encodeRFC5987(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

func asciiFallback(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// inlineType reports whether browsers can preview mime in place.
func inlineType(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	return mime == "application/pdf" || strings.HasPrefix(mime, "image/")
}

func truthy(v string) bool {
	v = strings.TrimSpace(v)
	return v == "1" || strings.EqualFold(v, "true")
}
