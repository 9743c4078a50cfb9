package consent

import (
	"errors"
	"strings"
	"testing"
)

const sampleForm = `
Mrs
First Name *
JANE
Last Name *
DOE
Date of Birth *
05/03/1990
Mobile Phone *
0412 345 678
Address *
12 Example St
City / Suburb
RICHMOND
State
Postcode *
3123
Medicare Card No. *
1234567890
`

func TestExtractSampleForm(t *testing.T) {
	out := Extract(sampleForm)

	if !out.Success {
		t.Fatalf("expected success, warnings: %v", out.Warnings)
	}
	rec := out.Record
	if rec.FirstName != "JANE" || rec.LastName != "DOE" {
		t.Errorf("name = %s %s, want JANE DOE", rec.FirstName, rec.LastName)
	}
	if rec.Sex != SexFemale {
		t.Errorf("sex = %s, want F", rec.Sex)
	}
	if rec.DOB != "19900305" {
		t.Errorf("dob = %s, want 19900305", rec.DOB)
	}
	if rec.Phone == nil || *rec.Phone != "0412345678" {
		t.Errorf("phone = %v, want 0412345678 with whitespace stripped", rec.Phone)
	}
	if rec.Postcode == nil || *rec.Postcode != "3123" {
		t.Errorf("postcode = %v, want 3123", rec.Postcode)
	}
	if rec.State == nil || *rec.State != "VIC" {
		t.Errorf("state = %v, want VIC", rec.State)
	}
	if rec.Suburb == nil || *rec.Suburb != "RICHMOND" {
		t.Errorf("suburb = %v, want RICHMOND", rec.Suburb)
	}
	if rec.MedicareNo == nil || *rec.MedicareNo != "1234567890" {
		t.Errorf("medicare = %v, want 1234567890", rec.MedicareNo)
	}
	if rec.MedicareRef != nil {
		t.Errorf("medicare ref = %v, want unset", *rec.MedicareRef)
	}
}

func TestExtractEmptyText(t *testing.T) {
	for _, text := range []string{"", "   \n\t  \n"} {
		out := Extract(text)
		if out.Success {
			t.Errorf("Extract(%q): expected failure", text)
		}
		if len(out.Warnings) != 1 {
			t.Errorf("Extract(%q): warnings = %v, want exactly one", text, out.Warnings)
		}
		rec := out.Record
		if rec.FirstName != DefaultFirstName || rec.LastName != DefaultLastName ||
			rec.DOB != DefaultDOB || rec.Sex != SexUnknown {
			t.Errorf("Extract(%q): record not fully defaulted: %+v", text, rec)
		}
		if rec.Address != nil || rec.Suburb != nil || rec.State != nil ||
			rec.Postcode != nil || rec.Phone != nil || rec.MedicareNo != nil || rec.MedicareRef != nil {
			t.Errorf("Extract(%q): optional fields should all be unset", text)
		}
	}
}

func TestExtractMissingFieldsWarns(t *testing.T) {
	out := Extract("nothing useful here")
	if out.Success {
		t.Error("expected failure with no name fields")
	}
	want := []string{
		"could not extract first name",
		"could not extract last name",
		"could not extract date of birth",
		"could not determine sex from title",
		"could not extract Medicare number",
	}
	if len(out.Warnings) != len(want) {
		t.Fatalf("warnings = %v, want %d entries", out.Warnings, len(want))
	}
	for i, w := range want {
		if out.Warnings[i] != w {
			t.Errorf("warning[%d] = %q, want %q", i, out.Warnings[i], w)
		}
	}
}

func TestExtractNormalizesCaptures(t *testing.T) {
	text := "Mr\nFirst Name\nBob\nLast Name\nSmith\nAddress\nUnit 1\n45 Long   Road\nPostcode 2000\n"
	out := Extract(text)
	if out.Record.Address == nil {
		t.Fatal("expected address")
	}
	got := *out.Record.Address
	if strings.Contains(got, "\n") {
		t.Errorf("address %q still contains a line break", got)
	}
	if strings.Contains(got, "  ") {
		t.Errorf("address %q still contains a space run", got)
	}
	if got != "Unit 1 45 Long Road" {
		t.Errorf("address = %q, want %q", got, "Unit 1 45 Long Road")
	}
}

func TestTitleToSex(t *testing.T) {
	cases := map[string]string{
		"Mr":   SexMale,
		"Mrs":  SexFemale,
		"Miss": SexFemale,
		"Ms":   SexFemale,
		"Mx":   SexUnknown,
		"Dr":   SexUnknown,
	}
	for title, want := range cases {
		out := Extract(title + "\nFirst Name A\nLast Name B\n")
		if out.Record.Sex != want {
			t.Errorf("title %s: sex = %s, want %s", title, out.Record.Sex, want)
		}
	}

	// Lowercase and unknown titles never match the line pattern.
	for _, title := range []string{"mr", "MRS", "Prof", "Sir"} {
		out := Extract(title + "\nFirst Name A\nLast Name B\n")
		if out.Record.Sex != SexUnknown {
			t.Errorf("title %s: sex = %s, want U", title, out.Record.Sex)
		}
	}
}

func TestReformatDate(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"05/03/1990", "19900305"},
		{"5/3/1990", "19900305"},
		{"31/12/2024", "20241231"},
		{"31/02/2020", "20200231"}, // accepted verbatim, no calendar check
		{"1990-03-05", DefaultDOB},
		{"garbage", DefaultDOB},
		{"", DefaultDOB},
	}
	for _, c := range cases {
		if got := ReformatDate(c.in); got != c.want {
			t.Errorf("ReformatDate(%q) = %q, want %q", c.in, got, c.want)
		}
		if got := ReformatDate(c.in); len(got) != 8 {
			t.Errorf("ReformatDate(%q) = %q, not 8 digits", c.in, got)
		}
	}
}

func TestInferState(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"2000", "NSW"},
		{"3123", "VIC"},
		{"4000", "QLD"},
		{"5000", "SA"},
		{"6000", "WA"},
		{"7000", "TAS"},
		{"0800", "NT"},
		{"1000", "VIC"}, // no table entry for leading 1, falls back
		{"8000", "VIC"},
		{"9999", "VIC"},
		{"123", "VIC"},
		{"12345", "VIC"},
		{"", "VIC"},
	}
	for _, c := range cases {
		if got := InferState(c.in); got != c.want {
			t.Errorf("InferState(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

type failingProvider struct{ err error }

func (p failingProvider) ExtractText(string) (string, error) { return "", p.err }

type panickingProvider struct{}

func (panickingProvider) ExtractText(string) (string, error) { panic("malformed xref table") }

func TestExtractDocumentProviderError(t *testing.T) {
	out := ExtractDocument(failingProvider{err: errors.New("corrupt header")}, "in.pdf")
	if out.Success {
		t.Error("expected failure outcome")
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "corrupt header") {
		t.Errorf("warnings = %v, want one descriptive warning", out.Warnings)
	}
	if out.Record.FirstName != DefaultFirstName {
		t.Errorf("record not defaulted: %+v", out.Record)
	}
}

func TestExtractDocumentProviderPanic(t *testing.T) {
	out := ExtractDocument(panickingProvider{}, "in.pdf")
	if out.Success {
		t.Error("expected failure outcome")
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "malformed xref table") {
		t.Errorf("warnings = %v, want the panic message as a warning", out.Warnings)
	}
}
