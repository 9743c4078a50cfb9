package hl7

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/medihost/hl7-intake/internal/consent"
)

// Options configures the envelope values interpolated into MSH and OBR.
// All five are free-text strings; no validation is performed on them.
type Options struct {
	SendingApplication   string
	SendingFacility      string
	ReceivingApplication string
	ReceivingFacility    string
	DocumentTitle        string
}

// DefaultOptions returns the envelope defaults for the consent intake feed.
func DefaultOptions() Options {
	return Options{
		SendingApplication:   "MEDIHOST",
		SendingFacility:      "BJCHEALTH",
		ReceivingApplication: "GENIE",
		ReceivingFacility:    "CLINIC",
		DocumentTitle:        "Patient Consent Form",
	}
}

const (
	timestampLayout = "20060102150405"
	messageIDPrefix = "MSG"
	idSuffixLen     = 4
	idSuffixChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	errNilRecord = errors.New("hl7: nil patient record")

	reEightDigits = regexp.MustCompile(`^\d{8}$`)
	reUnsafeName  = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// Builder renders ORU^R01 messages. The clock and the random source are
// injectable: message uniqueness comes from pairing the second-precision
// timestamp with the 4-character suffix, so the source need not be
// cryptographic, and tests substitute deterministic ones.
type Builder struct {
	opts Options
	now  func() time.Time
	rand *rand.Rand
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithClock substitutes the clock used for generation timestamps.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// WithRand substitutes the random source used for message ID suffixes.
func WithRand(r *rand.Rand) BuilderOption {
	return func(b *Builder) { b.rand = r }
}

// NewBuilder creates a builder with the local clock and a process-scoped
// pseudo-random source.
func NewBuilder(opts Options, bo ...BuilderOption) *Builder {
	b := &Builder{
		opts: opts,
		now:  time.Now,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range bo {
		o(b)
	}
	return b
}

// Build assembles the five-segment message with the document content embedded
// as base64 ED data, joined and terminated by bare carriage returns. Record
// invariant violations are hard errors; the builder performs no defaulting of
// its own beyond what the record already encodes.
func (b *Builder) Build(rec *consent.PatientRecord, content []byte) (string, error) {
	if rec == nil {
		return "", errNilRecord
	}
	if !reEightDigits.MatchString(rec.DOB) {
		return "", fmt.Errorf("hl7: date of birth %q is not an 8-digit date", rec.DOB)
	}
	switch rec.Sex {
	case consent.SexMale, consent.SexFemale, consent.SexUnknown:
	default:
		return "", fmt.Errorf("hl7: invalid sex code %q", rec.Sex)
	}

	encoded := base64.StdEncoding.EncodeToString(content)

	segments := []string{
		b.buildMSH(),
		buildPID(rec),
		buildPV1(),
		b.buildOBR(),
		buildOBX(encoded),
	}
	return strings.Join(segments, SegmentTerminator) + SegmentTerminator, nil
}

// Timestamp returns the current generation timestamp, YYYYMMDDHHMMSS on the
// builder's clock.
func (b *Builder) Timestamp() string {
	return b.now().Format(timestampLayout)
}

// Filename derives the output file name: last and first name sanitized to
// ASCII letters and digits, joined with underscores, plus the generation
// timestamp.
func (b *Builder) Filename(rec *consent.PatientRecord) string {
	safe := reUnsafeName.ReplaceAllString(rec.LastName+"_"+rec.FirstName, "_")
	return safe + "_" + b.Timestamp() + ".hl7"
}

// ControlID returns the MSH-10 message control ID of a rendered message,
// or empty when the header is malformed.
func ControlID(message string) string {
	header, _, _ := strings.Cut(message, SegmentTerminator)
	fields := strings.Split(header, FieldSep)
	if len(fields) < 10 || fields[0] != "MSH" {
		return ""
	}
	return fields[9]
}

// MessageID generates a unique message control ID: fixed prefix, fresh
// timestamp and four random uppercase-alphanumeric characters.
func (b *Builder) MessageID() string {
	suffix := make([]byte, idSuffixLen)
	for i := range suffix {
		suffix[i] = idSuffixChars[b.rand.Intn(len(idSuffixChars))]
	}
	return messageIDPrefix + b.Timestamp() + string(suffix)
}

func (b *Builder) buildMSH() string {
	fields := []string{
		"MSH",
		EncodingChars,
		b.opts.SendingApplication,
		b.opts.SendingFacility,
		b.opts.ReceivingApplication,
		b.opts.ReceivingFacility,
		b.Timestamp(),
		"", // security
		"ORU^R01",
		b.MessageID(),
		"P",   // processing ID
		"2.4", // version
		"",    // sequence number
		"",    // continuation pointer
		"AL",  // accept acknowledgment type
		"NE",  // application acknowledgment type
		"AUS", // country code
		"8859/1",
	}
	return strings.Join(fields, FieldSep)
}

func buildPID(rec *consent.PatientRecord) string {
	// PID-3: Medicare number with its reference digit, defaulted to 1 when
	// the form carried none.
	var patientID string
	if rec.MedicareNo != nil {
		ref := "1"
		if rec.MedicareRef != nil {
			ref = *rec.MedicareRef
		}
		patientID = *rec.MedicareNo + "-" + ref + "^^^Medicare^MC"
	}

	// PID-11: emitted only when the form yielded an address line or suburb.
	var address string
	if rec.Address != nil || rec.Suburb != nil {
		state := "VIC"
		if rec.State != nil {
			state = *rec.State
		}
		address = strings.Join([]string{
			Escape(deref(rec.Address)),
			"", // street 2
			Escape(deref(rec.Suburb)),
			state,
			deref(rec.Postcode),
			"AUS",
		}, ComponentSep)
	}

	name := Escape(rec.LastName) + ComponentSep + Escape(rec.FirstName)

	var phone string
	if rec.Phone != nil {
		phone = Escape(*rec.Phone)
	}

	fields := []string{
		"PID",
		"1",
		"", // external ID
		patientID,
		"", // alternate ID
		name,
		"", // mother's maiden name
		rec.DOB,
		rec.Sex,
		"", // alias
		"", // race
		address,
		"", // county code
		phone,
	}
	return strings.Join(fields, FieldSep)
}

func buildPV1() string {
	return strings.Join([]string{"PV1", "1", "O"}, FieldSep)
}

func (b *Builder) buildOBR() string {
	ts := b.Timestamp()
	reportID := "RPT" + ts + ComponentSep + b.opts.SendingApplication
	serviceID := "PDF" + ComponentSep + Escape(b.opts.DocumentTitle) + ComponentSep + "L"

	fields := []string{"OBR", "1", "", reportID, serviceID}
	fields = append(fields, "", "")
	fields = append(fields, ts) // OBR-7: observation date/time
	for i := 0; i < 14; i++ {   // OBR-8 through OBR-21
		fields = append(fields, "")
	}
	fields = append(fields, ts) // OBR-22: results rpt/status change
	fields = append(fields, "", "")
	fields = append(fields, "F") // OBR-25: result status
	return strings.Join(fields, FieldSep)
}

func buildOBX(encoded string) string {
	// OBX-5 ED value: empty subtype, then application/pdf/Base64 and the
	// full unwrapped encoding of the document.
	value := strings.Join([]string{"", "application", "pdf", "Base64", encoded}, ComponentSep)

	fields := []string{
		"OBX",
		"1",
		"ED",
		"PDF^Display format in PDF^AUSPDI",
		"", // sub-ID
		value,
		"", // units
		"", // reference range
		"", // abnormal flags
		"", // probability
		"", // nature of abnormal test
		"F",
	}
	return strings.Join(fields, FieldSep)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
