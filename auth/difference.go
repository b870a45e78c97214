package auth

// Difference returns the elements of a that are not in b, in a's order.
// Nil inputs are treated as empty; the result is never nil.
func Difference(a, b []string) []string {
	out := make([]string, 0, len(a))
	if len(a) == 0 {
		return out
	}
	exclude := make(map[string]struct{}, len(b))
	for _, s := range b {
		exclude[s] = struct{}{}
	}
	for _, s := range a {
		if _, ok := exclude[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// unique drops repeated elements, keeping the first occurrence.
func unique(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
