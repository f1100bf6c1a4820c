package macros

import "net/url"

const upperhex = "0123456789ABCDEF"

// EncodeURIComponent percent-encodes s for use inside a URI query component.
// Only A-Z a-z 0-9 and - _ . ! ~ * ' ( ) are left as is.
func EncodeURIComponent(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	buf := make([]byte, len(s)+2*n)
	j := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldEscape(c) {
			buf[j] = '%'
			buf[j+1] = upperhex[c>>4]
			buf[j+2] = upperhex[c&15]
			j += 3
			continue
		}
		buf[j] = c
		j++
	}
	return string(buf)
}

// DecodeURIComponent reverses EncodeURIComponent.
func DecodeURIComponent(s string) (string, error) {
	return url.PathUnescape(s)
}

func shouldEscape(c byte) bool {
	if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
		return false
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return false
	}
	return true
}
