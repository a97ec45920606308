package layout

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/guregu/null/v6"

	"github.com/seenimoa/bcrpdata/pkg/models"
)

type labels map[string]string

func (l labels) Label(code string) (string, error) {
	if s, ok := l[code]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown code %s", code)
}

var testLabels = labels{
	"PN01288PM": "PBI por sectores - PBI (var. %)",
	"PN01289PM": "PBI por sectores - Agropecuario (var. %)",
	"PN01270PM": "Precios - IPC",
}

// providerTable is in the provider's order, not the request's.
func providerTable() *models.Table {
	t := models.NewTable("Precios - IPC", "PBI por sectores - PBI (var. %)", "PBI por sectores - Agropecuario (var. %)")
	_ = t.AppendRow(models.Period{Label: "Ene.2010"}, []null.Float{null.FloatFrom(3), null.FloatFrom(1), null.FloatFrom(2)})
	_ = t.AppendRow(models.Period{Label: "Feb.2010"}, []null.Float{null.FloatFrom(30), null.Float{}, null.FloatFrom(20)})
	return t
}

func TestReorderFollowsCodes(t *testing.T) {
	in := providerTable()
	codes := []string{"PN01288PM", "PN01289PM", "PN01270PM"}

	out, err := Reorder(in, codes, testLabels)
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	want := []string{testLabels["PN01288PM"], testLabels["PN01289PM"], testLabels["PN01270PM"]}
	if got := out.ColumnNames(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("order: got %q", got)
	}
	if got := out.Codes(); strings.Join(got, ",") != strings.Join(codes, ",") {
		t.Errorf("codes should be recorded: got %q", got)
	}
	if out.Columns[0].Values[1].Valid {
		t.Error("null cell should move with its column")
	}
	if out.Columns[2].Values[0].Float64 != 3 {
		t.Errorf("values moved incorrectly: %v", out.Columns[2].Values)
	}
	if in.Columns[0].Name != "Precios - IPC" {
		t.Error("input must not be modified")
	}
	out.Columns[0].Values[0] = null.FloatFrom(-1)
	if in.Columns[1].Values[0].Float64 != 1 {
		t.Error("output must not share cells with the input")
	}
}

func TestReorderFallsBackToCode(t *testing.T) {
	in := providerTable()
	in.Columns[0].Name = "renamed by provider"
	in.Columns[0].Code = "PN01270PM"

	out, err := Reorder(in, []string{"PN01270PM", "PN01288PM", "PN01289PM"}, testLabels)
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if out.Columns[0].Name != "renamed by provider" {
		t.Errorf("got %q", out.Columns[0].Name)
	}
}

func TestReorderErrors(t *testing.T) {
	tests := []struct {
		name  string
		codes []string
	}{
		{"unresolvable code", []string{"PN01288PM", "PN01289PM", "PN01270PM", "XXXX"}},
		{"code listed twice", []string{"PN01288PM", "PN01288PM", "PN01270PM"}},
		{"leftover column", []string{"PN01288PM", "PN01289PM"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reorder(providerTable(), tt.codes, testLabels)
			var oe *OrderError
			if !errors.As(err, &oe) {
				t.Fatalf("expected *OrderError, got %v", err)
			}
		})
	}
}

func TestReorderEmpty(t *testing.T) {
	out, err := Reorder(models.Empty(), nil, testLabels)
	if err != nil || !out.IsEmpty() {
		t.Errorf("got %+v, %v", out, err)
	}
}

func TestNativeAndDescribe(t *testing.T) {
	in := providerTable()
	in.Columns[1].Code = "PN01288PM"
	entries := Native(in)
	if len(entries) != 3 || entries[0].Position != 1 || entries[1].Code != "PN01288PM" {
		t.Fatalf("got %+v", entries)
	}

	var buf bytes.Buffer
	if err := Describe(entries, &buf); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "1") || !strings.Contains(lines[0], "-") || !strings.Contains(lines[0], "Precios - IPC") {
		t.Errorf("line 1: %q", lines[0])
	}
	if !strings.Contains(lines[1], "PN01288PM") {
		t.Errorf("line 2: %q", lines[1])
	}
}

func TestReorderLabelOverridesPositionalCode(t *testing.T) {
	in := providerTable()
	// Positional tagging assumed request order; the provider answered otherwise.
	in.Columns[0].Code = "PN01288PM"
	in.Columns[1].Code = "PN01289PM"
	in.Columns[2].Code = "PN01270PM"

	out, err := Reorder(in, []string{"PN01288PM", "PN01289PM", "PN01270PM"}, testLabels)
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if out.Columns[2].Name != "Precios - IPC" || out.Columns[2].Code != "PN01270PM" {
		t.Errorf("got %+v", out.Columns[2])
	}
}

func TestReorderSharedLabelAfterMerge(t *testing.T) {
	const label = "Tipo de cambio - Venta"
	shared := labels{"PD04638PD": label, "PD04640PD": label}

	// Merge renames the second column of a shared label to "<label> [<code>]".
	merged := models.NewTable(label, label+" [PD04640PD]")
	merged.Columns[0].Code = "PD04638PD"
	merged.Columns[1].Code = "PD04640PD"
	_ = merged.AppendRow(models.Period{Label: "02.Ene.20"}, []null.Float{null.FloatFrom(3.31), null.FloatFrom(3.32)})

	tests := []struct {
		name  string
		codes []string
	}{
		{"request order", []string{"PD04638PD", "PD04640PD"}},
		{"reversed", []string{"PD04640PD", "PD04638PD"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Reorder(merged, tt.codes, shared)
			if err != nil {
				t.Fatalf("Reorder: %v", err)
			}
			if got := out.Codes(); strings.Join(got, ",") != strings.Join(tt.codes, ",") {
				t.Errorf("codes: got %q, want %q", got, tt.codes)
			}
			for _, c := range out.Columns {
				want := 3.31
				if c.Code == "PD04640PD" {
					want = 3.32
				}
				if c.Values[0].Float64 != want {
					t.Errorf("%s: got %v, want %v", c.Code, c.Values[0].Float64, want)
				}
			}
		})
	}
}

func TestReorderSharedLabelUntagged(t *testing.T) {
	const label = "Tipo de cambio - Venta"
	shared := labels{"PD04638PD": label, "PD04640PD": label}

	// Without recorded codes the disambiguated name still resolves.
	in := models.NewTable(label, label+" [PD04640PD]")
	_ = in.AppendRow(models.Period{Label: "02.Ene.20"}, []null.Float{null.FloatFrom(1), null.FloatFrom(2)})

	out, err := Reorder(in, []string{"PD04638PD", "PD04640PD"}, shared)
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if out.Columns[1].Name != label+" [PD04640PD]" || out.Columns[1].Code != "PD04640PD" {
		t.Errorf("got %+v", out.Columns[1])
	}
}
