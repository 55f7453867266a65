package harvester

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// HostKey derives the pacing key for rawURL: the text between the scheme
// separator and the next path, query or fragment delimiter, lowercased, with
// userinfo and the scheme's default port removed. Internationalized names are
// folded to their punycode form so both spellings share one key.
func HostKey(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	scheme := ""
	if i := strings.Index(s, "://"); i >= 0 {
		scheme = strings.ToLower(s[:i])
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ToLower(s)
	if !isASCII(s) {
		s = toASCII(s)
	}
	switch {
	case scheme == "http" && strings.HasSuffix(s, ":80"):
		s = strings.TrimSuffix(s, ":80")
	case scheme == "https" && strings.HasSuffix(s, ":443"):
		s = strings.TrimSuffix(s, ":443")
	}
	return s
}

// toASCII punycodes the host part of authority. Names IDNA rejects are kept
// as written.
func toASCII(authority string) string {
	host, port := authority, ""
	if i := strings.LastIndex(authority, ":"); i >= 0 && !strings.Contains(authority[i:], "]") {
		host, port = authority[:i], authority[i:]
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return authority
	}
	return strings.ToLower(ascii) + port
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
