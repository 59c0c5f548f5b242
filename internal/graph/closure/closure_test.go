package closure

import (
	"reflect"
	"testing"
)

func dairyForest() []Node {
	return []Node{
		{ID: "animalia"},
		{ID: "animalia:chordata", Parent: "animalia"},
		{ID: "animalia:chordata:mammalia", Parent: "animalia:chordata"},
		{ID: "animalia:chordata:mammalia:bovidae", Parent: "animalia:chordata:mammalia"},
		{ID: "animalia:chordata:mammalia:bovidae:cattle", Parent: "animalia:chordata:mammalia:bovidae"},
		{ID: "animalia:chordata:mammalia:bovidae:goat", Parent: "animalia:chordata:mammalia:bovidae"},
		{ID: "animalia:chordata:mammalia:bovidae:sheep", Parent: "animalia:chordata:mammalia:bovidae"},
		{ID: "plantae"},
		{ID: "plantae:poales", Parent: "plantae"},
		{ID: "plantae:poales:wheat", Parent: "plantae:poales"},
	}
}

func TestBuildLineageAndDepth(t *testing.T) {
	table, err := Build(dairyForest())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if table.Len() != 10 {
		t.Fatalf("expected 10 nodes, got %d", table.Len())
	}
	want := []string{
		"animalia",
		"animalia:chordata",
		"animalia:chordata:mammalia",
		"animalia:chordata:mammalia:bovidae",
		"animalia:chordata:mammalia:bovidae:cattle",
	}
	got := table.Lineage("animalia:chordata:mammalia:bovidae:cattle")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("lineage mismatch: %v", got)
	}
	if table.Depth("animalia") != 0 || table.Depth("animalia:chordata:mammalia:bovidae:cattle") != 4 {
		t.Fatalf("depth wrong")
	}
	if parent, ok := table.Parent("animalia:chordata"); !ok || parent != "animalia" {
		t.Fatalf("parent lookup wrong: %q %v", parent, ok)
	}
	if _, ok := table.Parent("animalia"); ok {
		t.Fatalf("root must have no parent")
	}
}

func TestWithinAndSubtree(t *testing.T) {
	table, err := Build(dairyForest())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !table.Within("animalia:chordata:mammalia:bovidae:goat", "animalia:chordata") {
		t.Fatalf("goat should be within chordata")
	}
	if !table.Within("animalia:chordata", "animalia:chordata") {
		t.Fatalf("subtree root counts as within itself")
	}
	if table.Within("plantae:poales:wheat", "animalia") {
		t.Fatalf("wheat is not an animal")
	}
	sub := table.Subtree("animalia:chordata:mammalia:bovidae")
	want := []string{
		"animalia:chordata:mammalia:bovidae",
		"animalia:chordata:mammalia:bovidae:cattle",
		"animalia:chordata:mammalia:bovidae:goat",
		"animalia:chordata:mammalia:bovidae:sheep",
	}
	if !reflect.DeepEqual(append([]string(nil), sub...), want) {
		t.Fatalf("subtree mismatch: %v", sub)
	}
	if table.Subtree("missing") != nil {
		t.Fatalf("unknown subtree should be nil")
	}
}

func TestLeaves(t *testing.T) {
	table, err := Build(dairyForest())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !table.IsLeaf("animalia:chordata:mammalia:bovidae:cattle") {
		t.Fatalf("cattle is a leaf")
	}
	if table.IsLeaf("animalia:chordata:mammalia:bovidae") {
		t.Fatalf("bovidae has children")
	}
	if table.IsLeaf("missing") {
		t.Fatalf("unknown id is not a leaf")
	}
}

func TestBuildDeterministicOrder(t *testing.T) {
	forward, err := Build(dairyForest())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	nodes := dairyForest()
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	reversed, err := Build(nodes)
	if err != nil {
		t.Fatalf("build reversed: %v", err)
	}
	if !reflect.DeepEqual(forward.IDs(), reversed.IDs()) {
		t.Fatalf("pre-order must not depend on input order:\n%v\n%v", forward.IDs(), reversed.IDs())
	}
}

func TestBuildRejectsBadForests(t *testing.T) {
	if _, err := Build([]Node{{ID: "a"}, {ID: "a"}}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if _, err := Build([]Node{{ID: "a", Parent: "ghost"}}); err == nil {
		t.Fatalf("expected unknown parent error")
	}
	if _, err := Build([]Node{{ID: "a", Parent: "a"}}); err == nil {
		t.Fatalf("expected self-parent error")
	}
	if _, err := Build([]Node{{ID: "a", Parent: "b"}, {ID: "b", Parent: "a"}}); err == nil {
		t.Fatalf("expected cycle error")
	}
	if _, err := Build([]Node{{ID: ""}}); err == nil {
		t.Fatalf("expected empty id error")
	}
}

func TestEmptyForest(t *testing.T) {
	table, err := Build(nil)
	if err != nil {
		t.Fatalf("build empty: %v", err)
	}
	if table.Len() != 0 || table.Contains("anything") {
		t.Fatalf("empty table misbehaves")
	}
}
