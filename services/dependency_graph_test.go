package services

import (
	"testing"
)

func TestTopoSortDefaultEntities(t *testing.T) {
	ordered, err := TopoSort(DefaultEntities())
	if err != nil {
		t.Fatalf("topo sort: %v", err)
	}
	if len(ordered) != len(DefaultEntities()) {
		t.Fatalf("ordered = %d entities, want %d", len(ordered), len(DefaultEntities()))
	}

	position := map[string]int{}
	for i, e := range ordered {
		position[e.Name] = i
	}
	for _, e := range DefaultEntities() {
		for _, dep := range e.DependsOn {
			if position[dep] > position[e.Name] {
				t.Fatalf("%s ordered before its dependency %s", e.Name, dep)
			}
		}
	}
}

func TestTopoSortIsDeterministic(t *testing.T) {
	first, err := TopoSort(DefaultEntities())
	if err != nil {
		t.Fatalf("topo sort: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := TopoSort(DefaultEntities())
		if err != nil {
			t.Fatalf("topo sort: %v", err)
		}
		for j := range first {
			if again[j].Name != first[j].Name {
				t.Fatalf("order changed between runs: %v vs %v", first, again)
			}
		}
	}
}

func TestTopoSortRejectsBadGraphs(t *testing.T) {
	_, err := TopoSort([]Entity{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}

	_, err = TopoSort([]Entity{{Name: "a", DependsOn: []string{"ghost"}}})
	if err == nil {
		t.Fatal("expected unknown dependency error")
	}

	_, err = TopoSort([]Entity{{Name: "a"}, {Name: "a"}})
	if err == nil {
		t.Fatal("expected duplicate entity error")
	}
}

func TestSelectEntities(t *testing.T) {
	all := DefaultEntities()

	selected, err := SelectEntities(all, nil)
	if err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(selected) != len(all) {
		t.Fatalf("empty selection = %d entities, want all %d", len(selected), len(all))
	}

	selected, err = SelectEntities(all, []string{"contacts", " users "})
	if err != nil {
		t.Fatalf("select subset: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("subset = %d entities, want 2", len(selected))
	}

	if _, err := SelectEntities(all, []string{"invoices"}); err == nil {
		t.Fatal("expected error for unknown entity name")
	}
}
