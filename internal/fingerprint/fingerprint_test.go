package fingerprint

import "testing"

func TestHashDeterminism(t *testing.T) {
	keys := []HashKey{{Name: "title"}, {Name: "subjects"}}
	p := Payload{"title": "A Study", "subjects": []string{"physics", "optics"}}

	h1 := Hash("hal", "1.0.0", keys, p)
	h2 := Hash("hal", "1.0.0", keys, p)
	if h1 != h2 {
		t.Fatalf("hash must be deterministic across calls: %s != %s", h1, h2)
	}

	other := Payload{"title": "A Different Study", "subjects": []string{"physics", "optics"}}
	if Hash("hal", "1.0.0", keys, other) == h1 {
		t.Fatalf("hash must change when a participating field changes")
	}

	nonParticipating := Payload{"title": "A Study", "subjects": []string{"physics", "optics"}, "abstract": "ignored"}
	if Hash("hal", "1.0.0", keys, nonParticipating) != h1 {
		t.Fatalf("hash must not change when a non-participating field changes")
	}
}

func TestHashVersionSensitivity(t *testing.T) {
	keys := []HashKey{{Name: "title"}}
	p := Payload{"title": "A Study"}
	if Hash("hal", "1.0.0", keys, p) == Hash("hal", "2.0.0", keys, p) {
		t.Fatalf("hash must change when the adapter version changes")
	}
}

func TestHashUnorderedListSorts(t *testing.T) {
	keys := []HashKey{{Name: "subjects", Ordered: false}}
	a := Payload{"subjects": []string{"optics", "physics"}}
	b := Payload{"subjects": []string{"physics", "optics"}}
	if Hash("hal", "1.0.0", keys, a) != Hash("hal", "1.0.0", keys, b) {
		t.Fatalf("unordered list hash must be order-independent")
	}
}

func TestHashOrderedListPreservesOrder(t *testing.T) {
	keys := []HashKey{{Name: "subjects", Ordered: true}}
	a := Payload{"subjects": []string{"optics", "physics"}}
	b := Payload{"subjects": []string{"physics", "optics"}}
	if Hash("hal", "1.0.0", keys, a) == Hash("hal", "1.0.0", keys, b) {
		t.Fatalf("ordered list hash must be order-sensitive")
	}
}

func TestHashAbsentFieldIsEmpty(t *testing.T) {
	keys := []HashKey{{Name: "title"}, {Name: "missing"}}
	withMissing := Payload{"title": "A Study"}
	explicit := Payload{"title": "A Study", "missing": ""}
	if Hash("hal", "1.0.0", keys, withMissing) != Hash("hal", "1.0.0", keys, explicit) {
		t.Fatalf("absent field must hash the same as an explicit empty string")
	}
}
