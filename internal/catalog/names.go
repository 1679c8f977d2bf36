package catalog

import "strings"

// QualifiedName joins a peer gateway name and a tool name into the form
// shown to MCP clients. Federated tools are stored under their bare
// upstream name; the qualified form exists only at the presentation edge.
func (s *Service) QualifiedName(gatewayName, toolName string) string {
	return gatewayName + s.separator + toolName
}

// SplitQualifiedName undoes QualifiedName. The third result is false for
// unqualified (local) names. Gateway and tool names cannot themselves
// contain the separator, so the first occurrence is the split point.
func (s *Service) SplitQualifiedName(name string) (gatewayName, toolName string, ok bool) {
	before, after, found := strings.Cut(name, s.separator)
	if !found || before == "" || after == "" {
		return "", "", false
	}
	return before, after, true
}

// Separator returns the configured qualified-name separator.
func (s *Service) Separator() string {
	return s.separator
}

// Slugify derives a URL-safe slug from a display name: lower-cased, runs
// of non-alphanumerics collapsed to single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			pendingHyphen = b.Len() > 0
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
