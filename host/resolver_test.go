package host

import "testing"

func TestResolveResourceServerExactMatchWins(t *testing.T) {
	resources := []AggregatedResource{
		{ServerID: "a", URI: "file:///x.txt"},
		{ServerID: "b", URI: "file:///x.txt"},
	}
	templates := []AggregatedResourceTemplate{
		{ServerID: "c", URITemplate: "file:///{name}"},
	}
	got := ResolveResourceServer(resources, templates, "file:///x.txt")
	if len(got) != 2 {
		t.Fatalf("expected 2 exact matches, got %d: %+v", len(got), got)
	}
	for _, s := range got {
		if s.MatchType != MatchExact || s.Confidence != 1.0 {
			t.Errorf("unexpected suggestion: %+v", s)
		}
	}
}

func TestResolveResourceServerFallsBackToTemplate(t *testing.T) {
	templates := []AggregatedResourceTemplate{
		{ServerID: "a", URITemplate: "file:///{name}.txt"},
		{ServerID: "b", URITemplate: "db://{table}/{id}"},
	}
	got := ResolveResourceServer(nil, templates, "file:///report.txt")
	if len(got) != 1 || got[0].ServerID != "a" || got[0].MatchType != MatchTemplate {
		t.Fatalf("unexpected suggestions: %+v", got)
	}
}

func TestResolveResourceServerFallsBackToScheme(t *testing.T) {
	resources := []AggregatedResource{
		{ServerID: "a", URI: "file:///a.txt"},
		{ServerID: "a", URI: "file:///b.txt"},
		{ServerID: "b", URI: "db://table/1"},
	}
	got := ResolveResourceServer(resources, nil, "file:///unrelated.txt")
	if len(got) != 1 || got[0].ServerID != "a" || got[0].MatchType != MatchScheme {
		t.Fatalf("expected a single deduplicated scheme match for server a, got %+v", got)
	}
}

func TestResolveResourceServerNoMatchNoScheme(t *testing.T) {
	got := ResolveResourceServer(nil, nil, "not-a-uri")
	if got != nil {
		t.Fatalf("expected no suggestions for a target with no scheme separator, got %+v", got)
	}
}

func TestSuggestToolExactNameOnly(t *testing.T) {
	tools := []AggregatedTool{
		{ServerID: "a", Name: "get_forecast"},
		{ServerID: "b", Name: "get_forecast"},
		{ServerID: "c", Name: "other"},
	}
	got := SuggestTool(tools, "get_forecast")
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %d: %+v", len(got), got)
	}
}

func TestSuggestPromptExactNameOnly(t *testing.T) {
	prompts := []AggregatedPrompt{
		{ServerID: "a", Name: "summarize"},
		{ServerID: "b", Name: "translate"},
	}
	got := SuggestPrompt(prompts, "translate")
	if len(got) != 1 || got[0].ServerID != "b" {
		t.Fatalf("unexpected suggestions: %+v", got)
	}
}
