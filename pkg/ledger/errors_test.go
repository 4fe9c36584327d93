package ledger

import (
	"errors"
	"testing"
)

const (
	operationName    = "ledger"
	subjectName      = "entry"
	codeName         = "invalid"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	if !errors.Is(wrappedError, baseError) {
		test.Fatalf("expected wrapped error to unwrap to base error")
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestStoreError(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	testCases := []struct {
		name            string
		input           error
		wantUnavailable bool
		wantUnknown     bool
	}{
		{name: "raw driver error", input: baseError, wantUnavailable: true},
		{name: "unknown entry", input: ErrUnknownEntry, wantUnknown: true},
		{name: "already unavailable", input: ErrStoreUnavailable, wantUnavailable: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			err := StoreError(subjectName, codeName, testCase.input)
			if !errors.Is(err, testCase.input) {
				test.Fatalf("expected %v to be preserved, got %v", testCase.input, err)
			}
			if errors.Is(err, ErrStoreUnavailable) != testCase.wantUnavailable {
				test.Fatalf("unexpected unavailability marker on %v", err)
			}
			if errors.Is(err, ErrUnknownEntry) != testCase.wantUnknown {
				test.Fatalf("unexpected unknown entry marker on %v", err)
			}
			var operationError OperationError
			if !errors.As(err, &operationError) {
				test.Fatalf("expected OperationError, got %T", err)
			}
			if operationError.Operation() != operationStore || operationError.Subject() != subjectName || operationError.Code() != codeName {
				test.Fatalf("unexpected metadata: %s", operationError.Error())
			}
		})
	}
	if StoreError(subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil store error")
	}
}
