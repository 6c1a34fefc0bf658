package core

import (
	"errors"
	"testing"
)

func TestCommandResultHelpers(t *testing.T) {
	ok := Passed("invoked %s", "Save")
	if !ok.Success || ok.Message != "invoked Save" || ok.ErrorMessage() != "" {
		t.Errorf("Passed() = %+v", ok)
	}

	err := ErrPopupNotFound.Withf("no popup")
	bad := Failed(err, "waitForPopup %q", "Save As")
	if bad.Success {
		t.Error("Failed() reported success")
	}
	if !errors.Is(bad.Error, ErrPopupNotFound) {
		t.Errorf("Failed() error = %v", bad.Error)
	}
	if bad.ErrorMessage() != "no popup" {
		t.Errorf("ErrorMessage() = %q", bad.ErrorMessage())
	}

	var nilResult *CommandResult
	if nilResult.ErrorMessage() != "" {
		t.Error("nil result has an error message")
	}
}
