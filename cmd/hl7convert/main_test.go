package main

import "testing"

func TestOutputPath(t *testing.T) {
	cases := []struct {
		input, explicit, want string
	}{
		{"scan.pdf", "", "scan.hl7"},
		{"/forms/consent.PDF", "", "/forms/consent.hl7"},
		{"noext", "", "noext.hl7"},
		{"a.b.pdf", "", "a.b.hl7"},
		{"scan.pdf", "out/custom.hl7", "out/custom.hl7"},
	}
	for _, c := range cases {
		if got := outputPath(c.input, c.explicit); got != c.want {
			t.Errorf("outputPath(%q, %q) = %q, want %q", c.input, c.explicit, got, c.want)
		}
	}
}
