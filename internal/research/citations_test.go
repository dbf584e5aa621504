package research

import (
	"reflect"
	"testing"
)

func TestMergeCitationsDedup(t *testing.T) {
	a := []Citation{
		{ID: "a", URL: "https://one.example/x"},
		{ID: "b", URL: "https://two.example/y"},
	}
	b := []Citation{
		{ID: "c", URL: "https://one.example/x"}, // dup by URL
		{ID: "b", URL: "https://three.example/z"}, // dup by ID
		{ID: "d", URL: "https://four.example/w"},
	}
	merged := MergeCitations(a, b)
	if len(merged) != 3 {
		t.Fatalf("expected 3 citations, got %d", len(merged))
	}
	if merged[0].ID != "a" || merged[1].ID != "b" || merged[2].ID != "d" {
		t.Fatalf("unexpected order: %+v", merged)
	}
}

func TestMergeCitationsIdempotent(t *testing.T) {
	a := []Citation{
		{ID: "a", URL: "https://one.example"},
		{ID: "b", URL: "https://two.example"},
	}
	once := MergeCitations(a, a)
	twice := MergeCitations(once, a)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge is not idempotent: %+v vs %+v", once, twice)
	}
	if len(once) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(once))
	}
}

func TestMergeCitationsEmptyFieldsDoNotCollide(t *testing.T) {
	a := []Citation{{ID: "", URL: "https://one.example"}, {ID: "", URL: "https://two.example"}}
	merged := MergeCitations(a, nil)
	if len(merged) != 2 {
		t.Fatalf("empty ids must not dedupe against each other, got %d", len(merged))
	}
}

func TestRenumberCitations(t *testing.T) {
	citations := []Citation{
		{ID: "x", URL: "https://one.example"},
		{ID: "y", URL: "https://two.example"},
		{ID: "z", URL: "https://three.example"},
	}
	answer := "Claim [3] and another [1], repeated [3]."
	got, kept := RenumberCitations(answer, citations)

	want := "Claim [1] and another [2], repeated [1]."
	if got != want {
		t.Fatalf("answer = %q, want %q", got, want)
	}
	if len(kept) != 2 {
		t.Fatalf("expected orphan dropped, got %d citations", len(kept))
	}
	if kept[0].URL != "https://three.example" || kept[1].URL != "https://one.example" {
		t.Fatalf("citations not in first-appearance order: %+v", kept)
	}
	if kept[0].ID != "1" || kept[1].ID != "2" {
		t.Fatalf("citation ids not renumbered: %+v", kept)
	}
}

func TestRenumberCitationsOutOfRange(t *testing.T) {
	citations := []Citation{{ID: "x", URL: "https://one.example"}}
	answer := "Valid [1] but bogus [7] and [0]."
	got, kept := RenumberCitations(answer, citations)
	if got != "Valid [1] but bogus [7] and [0]." {
		t.Fatalf("out-of-range markers must stay literal, got %q", got)
	}
	if len(kept) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(kept))
	}
}

func TestRenumberCitationsRoundTrip(t *testing.T) {
	citations := []Citation{
		{URL: "https://a.example"},
		{URL: "https://b.example"},
		{URL: "https://c.example"},
	}
	answer := "See [2], then [3], then [2] again."
	once, keptOnce := RenumberCitations(answer, citations)
	twice, keptTwice := RenumberCitations(once, keptOnce)
	if once != twice {
		t.Fatalf("renumbering is not stable: %q vs %q", once, twice)
	}
	if !reflect.DeepEqual(keptOnce, keptTwice) {
		t.Fatalf("citations changed on second pass: %+v vs %+v", keptOnce, keptTwice)
	}
}

func TestRenumberCitationsNoMarkers(t *testing.T) {
	got, kept := RenumberCitations("no citations here", []Citation{{URL: "https://a.example"}})
	if got != "no citations here" {
		t.Fatalf("answer changed: %q", got)
	}
	if len(kept) != 0 {
		t.Fatalf("unreferenced citations must be dropped, got %d", len(kept))
	}
}

func TestDomain(t *testing.T) {
	cases := map[string]string{
		"https://www.example.com/path?q=1": "www.example.com",
		"http://Example.ORG:80/x":          "example.org",
		"":                                 "",
		"not a url":                        "",
	}
	for in, want := range cases {
		if got := Domain(in); got != want {
			t.Fatalf("Domain(%q) = %q, want %q", in, got, want)
		}
	}
}
