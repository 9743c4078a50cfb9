// Package consent recovers a structured patient record from the loosely
// formatted text layout of a patient consent form.
package consent

// Sentinel defaults used when a field cannot be recovered from the form text.
const (
	DefaultFirstName = "UNKNOWN"
	DefaultLastName  = "PATIENT"
	DefaultDOB       = "19000101"
)

// Sex codes as emitted in PID-8.
const (
	SexMale    = "M"
	SexFemale  = "F"
	SexUnknown = "U"
)

// PatientRecord holds the patient details recovered from a consent form.
// Optional fields are nil when the form did not yield a value; an empty
// string is never used to mean "not found". The DOB is always exactly eight
// digits and Sex is always one of the three codes.
type PatientRecord struct {
	FirstName   string
	LastName    string
	DOB         string // YYYYMMDD
	Sex         string
	Address     *string
	Suburb      *string
	State       *string
	Postcode    *string
	Phone       *string
	MedicareNo  *string
	MedicareRef *string
}

// DefaultRecord returns a fully-defaulted record.
func DefaultRecord() PatientRecord {
	return PatientRecord{
		FirstName: DefaultFirstName,
		LastName:  DefaultLastName,
		DOB:       DefaultDOB,
		Sex:       SexUnknown,
	}
}

// Outcome is the result of a single extraction run. Success reflects only
// whether both name fields were recovered from the text; it says nothing
// about the completeness of the other fields. Warnings are diagnostic and
// never block message generation.
type Outcome struct {
	Success  bool
	Record   PatientRecord
	Warnings []string
}
