package models

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Monstera Deliciosa":    "monstera-deliciosa",
		"  Fiddle-Leaf Fig  ":   "fiddle-leaf-fig",
		"Aloe_vera (true aloe)": "aloe-vera-true-aloe",
		"ZZ Plant":              "zz-plant",
		"":                      "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecordInput_Validate(t *testing.T) {
	in := &RecordInput{Name: "Monstera"}
	if err := in.Validate(); err != nil {
		t.Fatal(err)
	}
	if in.Kind != KindPlant {
		t.Errorf("default kind = %q, want plant", in.Kind)
	}
	if in.NaturalKey != "monstera" {
		t.Errorf("natural key = %q, want monstera", in.NaturalKey)
	}

	if err := (&RecordInput{}).Validate(); err == nil {
		t.Error("expected error for empty name")
	}
	bad := &RecordInput{Name: "x", Kind: "weird"}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}
	crossed := &RecordInput{Name: "x", Kind: KindGeneric, Care: &CareGuide{Water: "weekly"}}
	if err := crossed.Validate(); err == nil {
		t.Error("generic record with care guidance should be rejected")
	}
	crossed2 := &RecordInput{Name: "x", Kind: KindPlant, Description: "a mug"}
	if err := crossed2.Validate(); err == nil {
		t.Error("plant record with generic description should be rejected")
	}
}

func TestRecord_SearchText(t *testing.T) {
	plant := &Record{
		Kind: KindPlant,
		Care: &CareGuide{Light: "bright indirect", Water: "weekly"},
	}
	text := plant.SearchText()
	if text == "" {
		t.Fatal("plant search text empty")
	}
	generic := &Record{Kind: KindGeneric, Description: "ceramic pot"}
	if generic.SearchText() != "ceramic pot" {
		t.Errorf("generic search text = %q", generic.SearchText())
	}
	bare := &Record{Kind: KindPlant}
	if bare.SearchText() != "" {
		t.Errorf("plant without care should have empty search text")
	}
}

func TestParseRecordFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monstera.yaml")
	content := []byte(`name: Monstera
secondary_name: Monstera deliciosa
care:
  light: bright indirect
  water: when top inch is dry
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	in, err := ParseRecordFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if in.Name != "Monstera" || in.Kind != KindPlant {
		t.Errorf("parsed input = %+v", in)
	}
	if in.Care == nil || in.Care.Water != "when top inch is dry" {
		t.Errorf("care not parsed: %+v", in.Care)
	}
	if in.NaturalKey != "monstera" {
		t.Errorf("natural key = %q", in.NaturalKey)
	}

	badPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(badPath, []byte("kind: plant\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseRecordFile(badPath); err == nil {
		t.Error("expected validation error for record without name")
	}
	if _, err := ParseRecordFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRecordInput_RecordReadsImage(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "photo.bin")
	if err := os.WriteFile(imgPath, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}
	in := &RecordInput{Name: "Pothos", ImagePath: imgPath}
	rec, err := in.Record()
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Image) != 3 {
		t.Errorf("image bytes = %d, want 3", len(rec.Image))
	}
	in2 := &RecordInput{Name: "Pothos", ImagePath: filepath.Join(dir, "missing.jpg")}
	if _, err := in2.Record(); err == nil {
		t.Error("expected error for missing image path")
	}
}
