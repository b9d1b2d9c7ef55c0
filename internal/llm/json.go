package llm

import "regexp"

// jsonObjectRe matches from the first '{' to the last '}' in the text.
var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

// ExtractJSONObject returns the outermost brace-delimited substring of a
// free-form model reply, or false if the reply contains none. The result is
// not validated as JSON.
func ExtractJSONObject(text string) (string, bool) {
	m := jsonObjectRe.FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}
