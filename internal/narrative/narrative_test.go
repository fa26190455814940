package narrative

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseKey(t *testing.T) {
	key, err := ParseKey("12/3/7")
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if key != (Key{ID: 12, Obj: 3, Ver: 7}) {
		t.Errorf("unexpected key %+v", key)
	}
	if key.String() != "12/3/7" {
		t.Errorf("unexpected string %q", key.String())
	}
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "1/2", "1/2/3/4", "a/2/3", "1/-2/3"} {
		if _, err := ParseKey(raw); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseKey(%q): expected ErrInvalidKey, got %v", raw, err)
		}
	}
}

func TestKeyIsZero(t *testing.T) {
	if !(Key{}).IsZero() {
		t.Error("empty key should be zero")
	}
	if (Key{Ver: 1}).IsZero() {
		t.Error("key with version should not be zero")
	}
}

func TestApplyObjectIDShim(t *testing.T) {
	doc := &Doc{AccessGroup: 5, Version: 2}
	if !ApplyObjectIDShim(doc, 9) {
		t.Fatal("expected patch to be applied")
	}
	if doc.ObjID != 9 {
		t.Errorf("expected obj id 9, got %d", doc.ObjID)
	}
	if ApplyObjectIDShim(doc, 9) {
		t.Error("second patch with same id should be a no-op")
	}
	if ApplyObjectIDShim(nil, 1) {
		t.Error("nil doc should not be patched")
	}
}

func TestReadableType(t *testing.T) {
	cases := map[string]string{
		"KBaseGenomes.Genome-8.2":      "Genome",
		"KBaseNarrative.Narrative-4.0": "Narrative",
		"KBaseFBA.FBAModel":            "FBAModel",
		"Reads":                        "Reads",
		"KBaseSets.ReadsSet-1.0":       "ReadsSet",
		"":                             "",
	}
	for in, want := range cases {
		if got := ReadableType(in); got != want {
			t.Errorf("ReadableType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSourceAcceptsStringOrLines(t *testing.T) {
	var cells []Cell
	raw := `[{"cell_type":"markdown","source":"# Title"},{"cell_type":"code","source":["a = 1\n","b = 2"]}]`
	if err := json.Unmarshal([]byte(raw), &cells); err != nil {
		t.Fatalf("unmarshal cells: %v", err)
	}
	if cells[0].Source != "# Title" {
		t.Errorf("unexpected string source %q", cells[0].Source)
	}
	if cells[1].Source != "a = 1\nb = 2" {
		t.Errorf("unexpected joined source %q", cells[1].Source)
	}
}

func TestDocTimes(t *testing.T) {
	doc := Doc{Timestamp: 1_600_000_000_000, CreationDate: "2020-09-13T12:26:40+0000"}
	if got := doc.UpdatedAt(); !got.Equal(time.UnixMilli(1_600_000_000_000)) {
		t.Errorf("unexpected updated time %v", got)
	}
	doc.ModifiedAt = 1_700_000_000_000
	if got := doc.UpdatedAt(); !got.Equal(time.UnixMilli(1_700_000_000_000)) {
		t.Errorf("modified_at should win, got %v", got)
	}
	if doc.CreatedAt().IsZero() {
		t.Error("expected creation date to parse")
	}
	if !(Doc{CreationDate: "yesterday"}).CreatedAt().IsZero() {
		t.Error("malformed creation date should be zero")
	}
}
