package itchio

import "strings"

// FilterKeys narrows keys by author and/or title. Both queries are
// case-insensitive substring matches and optional; when both are given
// a key must satisfy both. The author query matches the username or,
// when present, the display name. Original order is preserved.
func FilterKeys(keys []OwnedKey, author, title string) []OwnedKey {
	if author == "" && title == "" {
		return keys
	}

	author = strings.ToLower(author)
	title = strings.ToLower(title)

	var out []OwnedKey
	for _, key := range keys {
		if author != "" && !matchesAuthor(key.Game.User, author) {
			continue
		}
		if title != "" && !strings.Contains(strings.ToLower(key.Game.Title), title) {
			continue
		}
		out = append(out, key)
	}
	return out
}

func matchesAuthor(u User, query string) bool {
	if strings.Contains(strings.ToLower(u.Username), query) {
		return true
	}
	return u.DisplayName != nil && strings.Contains(strings.ToLower(*u.DisplayName), query)
}
