package spider

import "strings"

// BaseName derives the output name for a run from its base URL: the part
// after the scheme with a leading "www." and every slash removed.
func BaseName(baseURL string) string {
	name := baseURL
	if _, rest, ok := strings.Cut(name, "//"); ok {
		name = rest
	}
	name = strings.TrimPrefix(name, "www.")
	name = strings.ReplaceAll(name, "/", "")
	if name == "" {
		return "output"
	}
	return name
}
