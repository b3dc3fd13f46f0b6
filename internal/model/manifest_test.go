package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeFillsContainers(t *testing.T) {
	m := &Manifest{Name: "foo"}
	m.Normalize()

	if m.Versions == nil || m.DistTags == nil || m.Time == nil || m.Users == nil {
		t.Fatalf("expected containers to be initialized: %+v", m)
	}
	if m.Attachments == nil || m.DistFiles == nil || m.Uplinks == nil {
		t.Fatalf("expected internal containers to be initialized: %+v", m)
	}
	if m.ID != "foo" {
		t.Fatalf("expected _id to default to name, got %s", m.ID)
	}
}

func TestNewManifestTemplate(t *testing.T) {
	m := NewManifest("bar")
	if m.Rev != InitialRevision {
		t.Fatalf("expected initial revision, got %s", m.Rev)
	}
	if len(m.Versions) != 0 || len(m.DistTags) != 0 {
		t.Fatalf("template should be empty: %+v", m)
	}
}

func TestPersonUnmarshalString(t *testing.T) {
	var p Person
	if err := json.Unmarshal([]byte(`"Ana Lopez <ana@example.com> (https://example.com)"`), &p); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if p.Name != "Ana Lopez" || p.Email != "ana@example.com" || p.URL != "https://example.com" {
		t.Fatalf("unexpected person: %+v", p)
	}
}

func TestPersonListUnmarshalSingleObject(t *testing.T) {
	var l PersonList
	if err := json.Unmarshal([]byte(`{"name":"solo","email":"solo@example.com"}`), &l); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(l) != 1 || l[0].Name != "solo" {
		t.Fatalf("unexpected list: %+v", l)
	}
}

func TestKeywordsUnmarshalString(t *testing.T) {
	var k Keywords
	if err := json.Unmarshal([]byte(`"http, server proxy"`), &k); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(k) != 3 {
		t.Fatalf("expected 3 keywords, got %v", k)
	}
}

func TestClonePreservesUplinkAnnotation(t *testing.T) {
	m := NewManifest("foo")
	m.Versions["1.0.0"] = &Version{Name: "foo", Version: "1.0.0", Uplink: "npmjs"}

	clone := m.Clone()
	if clone.Versions["1.0.0"].Uplink != "npmjs" {
		t.Fatalf("uplink annotation lost on clone")
	}

	clone.Versions["1.0.0"].Description = "changed"
	if m.Versions["1.0.0"].Description != "" {
		t.Fatalf("clone should not share version records")
	}
}

func TestUplinkAnnotationNotSerialized(t *testing.T) {
	ver := &Version{Name: "foo", Version: "1.0.0", Uplink: "npmjs"}
	data, err := json.Marshal(ver)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	for key := range raw {
		if key == "Uplink" || key == "uplink" {
			t.Fatalf("uplink annotation must not be serialized: %s", string(data))
		}
	}
}

func TestTouchMaintainsCreatedAndModified(t *testing.T) {
	m := NewManifest("foo")
	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Touch(first)

	if m.Time["created"] == "" || m.Time["modified"] == "" {
		t.Fatalf("expected created/modified stamps: %+v", m.Time)
	}
	created := m.Time["created"]

	second := first.Add(time.Hour)
	m.Touch(second)
	if m.Time["created"] != created {
		t.Fatalf("created must not move on later writes")
	}
	if m.Time["modified"] == created {
		t.Fatalf("modified should advance")
	}
}
