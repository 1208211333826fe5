package host

import (
	"regexp"
	"strings"
)

// ResolveResourceServer ranks servers by how well they can serve target, a resource URI.
// Exact matches against concrete resources win outright; failing that, URI templates are
// tried; failing that, any server offering a resource with the same URI scheme is offered
// as a low-confidence fallback. The function is pure: it takes snapshots and performs no
// I/O or locking of its own.
func ResolveResourceServer(resources []AggregatedResource, templates []AggregatedResourceTemplate, target string) []Suggestion {
	var exact []Suggestion
	for _, r := range resources {
		if r.URI == target {
			exact = append(exact, Suggestion{ServerID: r.ServerID, MatchType: MatchExact, Confidence: 1.0})
		}
	}
	if len(exact) > 0 {
		return exact
	}

	var tmpl []Suggestion
	for _, t := range templates {
		if templateMatches(t.URITemplate, target) {
			tmpl = append(tmpl, Suggestion{ServerID: t.ServerID, MatchType: MatchTemplate, Confidence: 0.8})
		}
	}
	if len(tmpl) > 0 {
		return tmpl
	}

	idx := strings.IndexByte(target, ':')
	if idx < 0 {
		return nil
	}
	scheme := target[:idx+1]

	seen := make(map[string]struct{})
	var byScheme []Suggestion
	for _, r := range resources {
		if _, ok := seen[r.ServerID]; ok {
			continue
		}
		if strings.HasPrefix(r.URI, scheme) {
			seen[r.ServerID] = struct{}{}
			byScheme = append(byScheme, Suggestion{ServerID: r.ServerID, MatchType: MatchScheme, Confidence: 0.5})
		}
	}
	return byScheme
}

var templatePlaceholder = regexp.MustCompile(`\{[^{}]*\}`)

// templateMatches reports whether target matches uriTemplate once every {placeholder} is
// treated as a wildcard. Literal segments between placeholders are escaped individually so
// regex metacharacters in the template's fixed text (e.g. a literal "." in a URI) are not
// mistaken for pattern syntax.
func templateMatches(uriTemplate, target string) bool {
	locs := templatePlaceholder.FindAllStringIndex(uriTemplate, -1)
	var b strings.Builder
	b.WriteString("^")
	last := 0
	for _, loc := range locs {
		b.WriteString(regexp.QuoteMeta(uriTemplate[last:loc[0]]))
		b.WriteString(".*")
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(uriTemplate[last:]))
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(target)
}

// SuggestTool ranks servers offering a tool named target, exact match only.
func SuggestTool(tools []AggregatedTool, target string) []Suggestion {
	var out []Suggestion
	for _, t := range tools {
		if t.Name == target {
			out = append(out, Suggestion{ServerID: t.ServerID, MatchType: MatchName, Confidence: 1.0})
		}
	}
	return out
}

// SuggestPrompt ranks servers offering a prompt named target, exact match only.
func SuggestPrompt(prompts []AggregatedPrompt, target string) []Suggestion {
	var out []Suggestion
	for _, p := range prompts {
		if p.Name == target {
			out = append(out, Suggestion{ServerID: p.ServerID, MatchType: MatchName, Confidence: 1.0})
		}
	}
	return out
}
