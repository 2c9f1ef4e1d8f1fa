package scoring

import "strings"

// NormalizePhone reduces a raw phone string to a leading '+' followed by digits.
// Everything except digits and '+' is dropped. A number that does not already start
// with '+' loses its leading zeros and gains a '+' prefix. An empty result means the
// input carried no usable characters.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 1)
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}

	phone := b.String()
	if phone == "" {
		return ""
	}
	if phone[0] != '+' {
		phone = "+" + strings.TrimLeft(phone, "0")
	}
	return phone
}

// ValidPhone reports whether a normalized phone is an optional leading '+'
// followed by at least one digit and nothing else.
func ValidPhone(normalized string) bool {
	digits := strings.TrimPrefix(normalized, "+")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
