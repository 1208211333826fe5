package bridge

import (
	"testing"
	"time"

	"github.com/mcphostlib/mcphost/session"
)

func TestMatchesTopicCatchAllResources(t *testing.T) {
	m := session.NewManager(time.Hour, nil, nil)
	defer m.Close()
	id := m.Create()
	s, _ := m.Get(id)

	s.Subscribe("resources")
	if !matchesTopic(s, "file:///x.txt", "") {
		t.Fatal("expected catch-all \"resources\" subscription to match any uri")
	}
}

func TestMatchesTopicSpecificResource(t *testing.T) {
	m := session.NewManager(time.Hour, nil, nil)
	defer m.Close()
	id := m.Create()
	s, _ := m.Get(id)

	s.Subscribe("resource:file:///x.txt")
	if !matchesTopic(s, "file:///x.txt", "") {
		t.Fatal("expected specific resource subscription to match")
	}
	if matchesTopic(s, "file:///y.txt", "") {
		t.Fatal("did not expect a subscription for a different uri to match")
	}
}

func TestMatchesTopicServer(t *testing.T) {
	m := session.NewManager(time.Hour, nil, nil)
	defer m.Close()
	id := m.Create()
	s, _ := m.Get(id)

	s.Subscribe("server:weather")
	if !matchesTopic(s, "", "weather") {
		t.Fatal("expected server-scoped subscription to match")
	}
	if matchesTopic(s, "", "other") {
		t.Fatal("did not expect a subscription for a different server to match")
	}
}

func TestMatchesTopicNoSubscriptionNeverMatches(t *testing.T) {
	m := session.NewManager(time.Hour, nil, nil)
	defer m.Close()
	id := m.Create()
	s, _ := m.Get(id)

	if matchesTopic(s, "file:///x.txt", "weather") {
		t.Fatal("expected no match without any subscription")
	}
}
