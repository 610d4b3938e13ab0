package domain

// DeriveConversationID returns the canonical conversation id for a pair of
// participants: the two ids lexicographically sorted and joined. Every lookup
// and create path must go through this function so that getOrCreate(a, b) and
// getOrCreate(b, a) land on the same record.
func DeriveConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}
