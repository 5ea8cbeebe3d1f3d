package push

import (
	"regexp"
	"strings"
)

var uuidToken = regexp.MustCompile(`(?i)^[a-z\d]{8}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{12}$`)

// IsExpoPushToken reports whether token follows the Expo token grammar.
func IsExpoPushToken(token string) bool {
	for _, prefix := range []string{"ExponentPushToken[", "ExpoPushToken["} {
		if strings.HasPrefix(token, prefix) && strings.HasSuffix(token, "]") {
			return len(token) > len(prefix)+1
		}
	}
	return uuidToken.MatchString(token)
}

// ValidTokens keeps the tokens v accepts, in order. Duplicates are kept.
func ValidTokens(v Validator, raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if v.IsValidToken(t) {
			out = append(out, t)
		}
	}
	return out
}
