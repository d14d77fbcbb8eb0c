package model

// DirectID returns the routing token of the two-party conversation between
// a and b. The lexicographically smaller id always comes first, so the token
// is independent of argument order.
func DirectID(a, b string) string {
	if a < b {
		return a + b
	}
	return b + a
}

// Counterpart splits a direct-conversation token at the fixed id boundary
// and returns the id that is not self. ok is false when the token is not a
// pair of ids or self is not one of them.
func Counterpart(token, self string) (string, bool) {
	if len(token) != 2*IDLength {
		return "", false
	}
	first, second := token[:IDLength], token[IDLength:]
	switch self {
	case first:
		return second, true
	case second:
		return first, true
	}
	return "", false
}

// IsDirect reports whether token has the shape of a direct-conversation token.
func IsDirect(token string) bool {
	return len(token) == 2*IDLength && ValidID(token[:IDLength]) && ValidID(token[IDLength:])
}
