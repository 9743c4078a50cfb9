package conversion

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestIsNoRows(t *testing.T) {
	if !isNoRows(pgx.ErrNoRows) {
		t.Error("bare sentinel not recognized")
	}
	if !isNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)) {
		t.Error("wrapped sentinel not recognized")
	}
	if isNoRows(errors.New("connection reset")) {
		t.Error("unrelated error misreported as empty result")
	}
	if isNoRows(nil) {
		t.Error("nil error misreported as empty result")
	}
}
