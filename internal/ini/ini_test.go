package ini

import (
	"strings"
	"testing"

	"github.com/wegman-software/navcompile-go/internal/diag"
)

const sample = `; scenery library
[General]
Title=FS Scenery
Clean_on_Exit=TRUE

[Area.001]
Title=Default Terrain
Local=Scenery\World
Layer=1
Active=TRUE

[Area.002]
Title="Addon Airport"
Local=Addon Scenery\EGLL
layer=2
Active=FALSE
this line is broken
[Broken
`

func TestParse(t *testing.T) {
	ledger := diag.NewLedger("ini")
	f, err := Parse(strings.NewReader(sample), "scenery.cfg", ledger)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(f.Sections) != 3 {
		t.Fatalf("sections = %d, want 3", len(f.Sections))
	}
	areas := f.WithPrefix("area.")
	if len(areas) != 2 {
		t.Fatalf("areas = %d, want 2", len(areas))
	}
	if got := areas[1].String("title", ""); got != "Addon Airport" {
		t.Errorf("Title = %q, want Addon Airport", got)
	}
	layer, ok, err := areas[1].Int("Layer")
	if err != nil || !ok || layer != 2 {
		t.Errorf("Layer = %d, %v, %v; want 2", layer, ok, err)
	}
	active, _, err := areas[1].Bool("Active")
	if err != nil || active {
		t.Errorf("Active = %v, %v; want false", active, err)
	}
	if ledger.Count(diag.Warning) != 2 {
		t.Errorf("warnings = %d, want 2: %v", ledger.Count(diag.Warning), ledger.Items())
	}
	items := ledger.Items()
	if len(items) > 0 && items[0].Line != 17 {
		t.Errorf("first warning line = %d, want 17", items[0].Line)
	}
}

func TestParseKeysWithoutSection(t *testing.T) {
	f, err := Parse(strings.NewReader("\ufeffa=1\nb = two\n"), "x.ini", nil)
	if err != nil {
		t.Fatal(err)
	}
	s := f.Section("")
	if s == nil {
		t.Fatal("missing unnamed section")
	}
	if v, _ := s.Get("A"); v != "1" {
		t.Errorf("a = %q, want 1", v)
	}
	if v, _ := s.Get("b"); v != "two" {
		t.Errorf("b = %q, want two", v)
	}
}
