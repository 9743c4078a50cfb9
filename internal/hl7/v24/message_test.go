package hl7

import (
	"encoding/base64"
	"math/rand"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/medihost/hl7-intake/internal/consent"
)

func fixedClock() func() time.Time {
	ts := time.Date(2024, 1, 2, 15, 4, 5, 0, time.Local)
	return func() time.Time { return ts }
}

func testBuilder() *Builder {
	return NewBuilder(DefaultOptions(),
		WithClock(fixedClock()),
		WithRand(rand.New(rand.NewSource(1))))
}

func testRecord() *consent.PatientRecord {
	medicare := "1234567890"
	address := "12 Example St"
	suburb := "RICHMOND"
	state := "VIC"
	postcode := "3123"
	phone := "0412345678"
	return &consent.PatientRecord{
		FirstName:  "JANE",
		LastName:   "DOE",
		DOB:        "19900305",
		Sex:        consent.SexFemale,
		Address:    &address,
		Suburb:     &suburb,
		State:      &state,
		Postcode:   &postcode,
		Phone:      &phone,
		MedicareNo: &medicare,
	}
}

func TestBuildMessageShape(t *testing.T) {
	content := []byte("%PDF-1.4 test content")
	msg, err := testBuilder().Build(testRecord(), content)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if n := strings.Count(msg, "\r"); n != 5 {
		t.Errorf("message contains %d CR terminators, want 5", n)
	}
	if strings.Contains(msg, "\n") {
		t.Error("message contains a bare linefeed")
	}
	if !strings.HasSuffix(msg, "\r") {
		t.Error("message missing trailing terminator")
	}

	segments := strings.Split(strings.TrimSuffix(msg, "\r"), "\r")
	if len(segments) != 5 {
		t.Fatalf("got %d segments, want 5", len(segments))
	}
	for i, id := range []string{"MSH", "PID", "PV1", "OBR", "OBX"} {
		if !strings.HasPrefix(segments[i], id+FieldSep) {
			t.Errorf("segment %d = %.20q, want %s", i, segments[i], id)
		}
	}
}

func TestBuildMSHFields(t *testing.T) {
	msg, err := testBuilder().Build(testRecord(), nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	msh := strings.Split(strings.Split(msg, "\r")[0], FieldSep)

	if len(msh) != 18 {
		t.Fatalf("MSH has %d fields, want 18", len(msh))
	}
	if msh[1] != `^~\&` {
		t.Errorf("encoding characters = %q", msh[1])
	}
	want := map[int]string{
		2:  "MEDIHOST",
		3:  "BJCHEALTH",
		4:  "GENIE",
		5:  "CLINIC",
		6:  "20240102150405",
		8:  "ORU^R01",
		10: "P",
		11: "2.4",
		14: "AL",
		15: "NE",
		16: "AUS",
		17: "8859/1",
	}
	for i, w := range want {
		if msh[i] != w {
			t.Errorf("MSH[%d] = %q, want %q", i, msh[i], w)
		}
	}
	if ok, _ := regexp.MatchString(`^MSG20240102150405[A-Z0-9]{4}$`, msh[9]); !ok {
		t.Errorf("message control ID = %q", msh[9])
	}
}

func TestBuildPIDFields(t *testing.T) {
	msg, err := testBuilder().Build(testRecord(), nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	pid := strings.Split(strings.Split(msg, "\r")[1], FieldSep)

	if len(pid) != 14 {
		t.Fatalf("PID has %d fields, want 14", len(pid))
	}
	if pid[3] != "1234567890-1^^^Medicare^MC" {
		t.Errorf("patient ID = %q", pid[3])
	}
	if pid[5] != "DOE^JANE" {
		t.Errorf("patient name = %q", pid[5])
	}
	if pid[7] != "19900305" || pid[8] != "F" {
		t.Errorf("dob/sex = %q/%q", pid[7], pid[8])
	}
	if pid[11] != "12 Example St^^RICHMOND^VIC^3123^AUS" {
		t.Errorf("address = %q", pid[11])
	}
	if pid[13] != "0412345678" {
		t.Errorf("phone = %q", pid[13])
	}
}

func TestBuildPIDOmissions(t *testing.T) {
	rec := &consent.PatientRecord{
		FirstName: consent.DefaultFirstName,
		LastName:  consent.DefaultLastName,
		DOB:       consent.DefaultDOB,
		Sex:       consent.SexUnknown,
	}
	msg, err := testBuilder().Build(rec, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	pid := strings.Split(strings.Split(msg, "\r")[1], FieldSep)

	if pid[3] != "" {
		t.Errorf("patient ID = %q, want empty without Medicare number", pid[3])
	}
	if pid[11] != "" {
		t.Errorf("address = %q, want empty without address or suburb", pid[11])
	}
	if pid[5] != "PATIENT^UNKNOWN" {
		t.Errorf("patient name = %q", pid[5])
	}
}

func TestBuildMedicareRefUsed(t *testing.T) {
	rec := testRecord()
	ref := "3"
	rec.MedicareRef = &ref
	msg, err := testBuilder().Build(rec, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	pid := strings.Split(strings.Split(msg, "\r")[1], FieldSep)
	if pid[3] != "1234567890-3^^^Medicare^MC" {
		t.Errorf("patient ID = %q", pid[3])
	}
}

func TestBuildEscapesFreeText(t *testing.T) {
	rec := testRecord()
	rec.LastName = "DOE|SMITH"
	rec.FirstName = "JANE^ANN"
	msg, err := testBuilder().Build(rec, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	pid := strings.Split(strings.Split(msg, "\r")[1], FieldSep)
	if pid[5] != `DOE\F\SMITH^JANE\S\ANN` {
		t.Errorf("patient name = %q", pid[5])
	}
}

func TestBuildPV1(t *testing.T) {
	msg, err := testBuilder().Build(testRecord(), nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if pv1 := strings.Split(msg, "\r")[2]; pv1 != "PV1|1|O" {
		t.Errorf("PV1 = %q", pv1)
	}
}

func TestBuildOBRFields(t *testing.T) {
	msg, err := testBuilder().Build(testRecord(), nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	obr := strings.Split(strings.Split(msg, "\r")[3], FieldSep)

	// OBR-25 is the last populated field; position is parsed, not labeled.
	if len(obr) != 26 {
		t.Fatalf("OBR has %d fields, want 26", len(obr))
	}
	if obr[3] != "RPT20240102150405^MEDIHOST" {
		t.Errorf("report ID = %q", obr[3])
	}
	if obr[4] != "PDF^Patient Consent Form^L" {
		t.Errorf("service ID = %q", obr[4])
	}
	if obr[7] != "20240102150405" {
		t.Errorf("OBR-7 = %q", obr[7])
	}
	for i := 8; i <= 21; i++ {
		if obr[i] != "" {
			t.Errorf("OBR-%d = %q, want empty", i, obr[i])
		}
	}
	if obr[22] != "20240102150405" {
		t.Errorf("OBR-22 = %q", obr[22])
	}
	if obr[25] != "F" {
		t.Errorf("OBR-25 = %q", obr[25])
	}
}

func TestBuildOBXEmbedsDocument(t *testing.T) {
	content := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xFF, 0x1B, 0x0D, 0x0A}
	msg, err := testBuilder().Build(testRecord(), content)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	obx := strings.Split(strings.Split(msg, "\r")[4], FieldSep)

	if len(obx) != 12 {
		t.Fatalf("OBX has %d fields, want 12", len(obx))
	}
	if obx[2] != "ED" || obx[3] != "PDF^Display format in PDF^AUSPDI" || obx[11] != "F" {
		t.Errorf("OBX envelope = %q / %q / %q", obx[2], obx[3], obx[11])
	}

	value := strings.Split(obx[5], ComponentSep)
	if len(value) != 5 {
		t.Fatalf("OBX-5 has %d components, want 5", len(value))
	}
	if value[0] != "" || value[1] != "application" || value[2] != "pdf" || value[3] != "Base64" {
		t.Errorf("OBX-5 prefix = %v", value[:4])
	}
	decoded, err := base64.StdEncoding.DecodeString(value[4])
	if err != nil {
		t.Fatalf("payload is not valid base64: %v", err)
	}
	if string(decoded) != string(content) {
		t.Errorf("decoded payload differs from original content")
	}
	if strings.ContainsAny(value[4], "\r\n") {
		t.Error("base64 payload is line-wrapped")
	}
}

func TestBuildRejectsInvalidRecords(t *testing.T) {
	b := testBuilder()

	if _, err := b.Build(nil, nil); err == nil {
		t.Error("nil record: expected error")
	}

	rec := testRecord()
	rec.DOB = "5/3/1990"
	if _, err := b.Build(rec, nil); err == nil {
		t.Error("malformed dob: expected error")
	}

	rec = testRecord()
	rec.Sex = "X"
	if _, err := b.Build(rec, nil); err == nil {
		t.Error("invalid sex code: expected error")
	}
}

func TestFilename(t *testing.T) {
	b := testBuilder()

	rec := testRecord()
	if got := b.Filename(rec); got != "DOE_JANE_20240102150405.hl7" {
		t.Errorf("filename = %q", got)
	}

	rec.LastName = "O'Brien"
	rec.FirstName = "Anne-Marie"
	if got := b.Filename(rec); got != "O_Brien_Anne_Marie_20240102150405.hl7" {
		t.Errorf("filename = %q", got)
	}
}

func TestMessageIDsVary(t *testing.T) {
	b := testBuilder()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[b.MessageID()] = true
	}
	if len(seen) < 2 {
		t.Error("message IDs do not vary across calls")
	}
}
