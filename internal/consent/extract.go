package consent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/medihost/hl7-intake/internal/document"
)

// One pattern per field, each applied independently against the full form
// text; the first match wins. RE2 has no lookahead, so the address and suburb
// patterns consume their trailing delimiter inside a non-capturing group --
// the captured value is the same.
var (
	reTitle       = regexp.MustCompile(`(?m)^\s*(Mr|Mrs|Miss|Ms|Mx|Dr)\s*$`)
	reFirstName   = regexp.MustCompile(`(?i)First Name\s*\*?\s*\n?\s*([A-Za-z]+)`)
	reLastName    = regexp.MustCompile(`(?i)Last Name\s*\*?\s*\n?\s*([A-Za-z]+)`)
	reDOB         = regexp.MustCompile(`(?i)Date of Birth\s*\*?\s*\n?\s*(\d{1,2}/\d{1,2}/\d{4})`)
	reMobile      = regexp.MustCompile(`(?i)Mobile Phone\s*\*?\s*\n?\s*([\d\s]{10,12})`)
	reAddress     = regexp.MustCompile(`(?is)Address\s*\*?\s*\n?\s*(.+?)\n*(?:Postcode|City)`)
	rePostcode    = regexp.MustCompile(`(?i)Postcode\s*\*?\s*\n?\s*(\d{4})`)
	reSuburb      = regexp.MustCompile(`(?i)City\s*/?\s*Suburb\s*\*?\s*\n?\s*([A-Za-z\s]+?)(?:\n|State)`)
	reMedicareNo  = regexp.MustCompile(`(?i)Medicare Card No\.?\s*\*?\s*\n?\s*(\d{10,11})`)
	reMedicareRef = regexp.MustCompile(`(?i)Medicare Ref\s*(?:Number)?\s*\*?\s*\n?\s*(\d)`)

	reDateShape = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})`)
	reSpaceRun  = regexp.MustCompile(` {2,}`)
)

// titleToSex maps the salutation line on the form to a PID-8 sex code.
var titleToSex = map[string]string{
	"Mr":   SexMale,
	"Mrs":  SexFemale,
	"Miss": SexFemale,
	"Ms":   SexFemale,
	"Mx":   SexUnknown,
	"Dr":   SexUnknown,
}

// postcodeToState maps the leading digit of a 4-digit Australian postcode to
// a state. There is deliberately no entry for "1": those postcodes fall back
// to VIC exactly like malformed ones, pending a domain ruling.
var postcodeToState = map[byte]string{
	'2': "NSW",
	'3': "VIC",
	'4': "QLD",
	'5': "SA",
	'6': "WA",
	'7': "TAS",
	'0': "NT",
}

// Extract runs every field rule over the text and assembles an outcome.
// Missing or malformed fields degrade to defaults plus a warning; only
// empty text marks the outcome unsuccessful up front.
func Extract(text string) Outcome {
	out := Outcome{Record: DefaultRecord()}

	if strings.TrimSpace(text) == "" {
		out.Warnings = append(out.Warnings, "document contains no extractable text")
		return out
	}

	firstName := extractField(text, reFirstName)
	lastName := extractField(text, reLastName)
	dobRaw := extractField(text, reDOB)
	mobile := extractField(text, reMobile)
	address := extractField(text, reAddress)
	postcode := extractField(text, rePostcode)
	suburb := extractField(text, reSuburb)
	medicareNo := extractField(text, reMedicareNo)
	medicareRef := extractField(text, reMedicareRef)

	sex := SexUnknown
	if m := reTitle.FindStringSubmatch(text); m != nil {
		if s, ok := titleToSex[m[1]]; ok {
			sex = s
		}
	}

	rec := PatientRecord{
		FirstName:   valueOr(firstName, DefaultFirstName),
		LastName:    valueOr(lastName, DefaultLastName),
		DOB:         DefaultDOB,
		Sex:         sex,
		Address:     address,
		Suburb:      suburb,
		Postcode:    postcode,
		MedicareRef: medicareRef,
	}
	if dobRaw != nil {
		rec.DOB = ReformatDate(*dobRaw)
	}
	if mobile != nil {
		v := strings.ReplaceAll(*mobile, " ", "")
		rec.Phone = &v
	}
	if postcode != nil {
		st := InferState(*postcode)
		rec.State = &st
	}
	if medicareNo != nil {
		v := strings.ReplaceAll(*medicareNo, " ", "")
		rec.MedicareNo = &v
	}

	if firstName == nil {
		out.Warnings = append(out.Warnings, "could not extract first name")
	}
	if lastName == nil {
		out.Warnings = append(out.Warnings, "could not extract last name")
	}
	if dobRaw == nil {
		out.Warnings = append(out.Warnings, "could not extract date of birth")
	}
	if sex == SexUnknown {
		out.Warnings = append(out.Warnings, "could not determine sex from title")
	}
	if medicareNo == nil {
		out.Warnings = append(out.Warnings, "could not extract Medicare number")
	}

	out.Record = rec
	out.Success = rec.FirstName != DefaultFirstName && rec.LastName != DefaultLastName
	return out
}

// ExtractDocument obtains the text layout through the provider and extracts a
// record from it. Provider failures, including parser panics, degrade to an
// unsuccessful outcome with a descriptive warning; they are never returned as
// errors.
func ExtractDocument(p document.TextProvider, path string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{
				Record:   DefaultRecord(),
				Warnings: []string{fmt.Sprintf("document parsing error: %v", r)},
			}
		}
	}()

	text, err := p.ExtractText(path)
	if err != nil {
		return Outcome{
			Record:   DefaultRecord(),
			Warnings: []string{fmt.Sprintf("document parsing error: %v", err)},
		}
	}
	return Extract(text)
}

// ExtractDocumentBytes is ExtractDocument for a document already held in
// memory, with the same degrade-to-warning behavior.
func ExtractDocumentBytes(p document.BytesTextProvider, data []byte) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{
				Record:   DefaultRecord(),
				Warnings: []string{fmt.Sprintf("document parsing error: %v", r)},
			}
		}
	}()

	text, err := p.ExtractTextBytes(data)
	if err != nil {
		return Outcome{
			Record:   DefaultRecord(),
			Warnings: []string{fmt.Sprintf("document parsing error: %v", err)},
		}
	}
	return Extract(text)
}

// ReformatDate converts an Australian DD/MM/YYYY date to the 8-digit YYYYMMDD
// form by reordering the groups. No calendar validation is performed; any
// value that does not match the shape yields the sentinel default.
func ReformatDate(s string) string {
	m := reDateShape.FindStringSubmatch(s)
	if m == nil {
		return DefaultDOB
	}
	return m[3] + pad2(m[2]) + pad2(m[1])
}

// InferState maps a 4-digit postcode to a state by its leading digit.
// Postcodes of any other shape, and leading digits without a table entry,
// fall back to VIC.
func InferState(postcode string) string {
	if len(postcode) != 4 {
		return "VIC"
	}
	if st, ok := postcodeToState[postcode[0]]; ok {
		return st
	}
	return "VIC"
}

// extractField applies one field pattern and normalizes the capture:
// surrounding whitespace trimmed, embedded line breaks replaced with spaces,
// space runs collapsed.
func extractField(text string, re *regexp.Regexp) *string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v := strings.TrimSpace(m[1])
	v = strings.ReplaceAll(v, "\n", " ")
	v = reSpaceRun.ReplaceAllString(v, " ")
	if v == "" {
		return nil
	}
	return &v
}

func valueOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
