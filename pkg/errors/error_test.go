package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	. "redlight/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{TeamNotFound, "Team data not found"},
		{SessionFrozen, "Editing is frozen during red light"},
		{InvalidParams, "Invalid parameters"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{InvalidScore, 400},
		{TokenExpired, 401},
		{ParticipantNoTeam, 403},
		{TeamNotFound, 404},
		{QuestionNotFound, 404},
		{DuplicateSubmission, 409},
		{SessionFrozen, 423},
		{GraderUnavailable, 502},
		{RunnerTimeout, 504},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(TeamNotFound, "team %s not found", "t-1")

	want := "team t-1 not found"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
	if err.Code != TeamNotFound {
		t.Errorf("Code = %v, want %v", err.Code, TeamNotFound)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrap(originalErr, DatabaseError)

	if wrappedErr.Code != DatabaseError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, DatabaseError)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
	if Wrap(nil, DatabaseError) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil error", err: nil, want: Success},
		{name: "custom error", err: New(TeamNotFound), want: TeamNotFound},
		{name: "wrapped custom error", err: fmt.Errorf("record: %w", New(DuplicateSubmission)), want: DuplicateSubmission},
		{name: "standard error", err: errors.New("standard error"), want: InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(SessionFrozen)

	if !Is(err, SessionFrozen) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, DatabaseError) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, SessionFrozen) {
		t.Error("Is() should return false for nil error")
	}
}

func TestCommonErrorConstructors(t *testing.T) {
	t.Run("BadRequest", func(t *testing.T) {
		if err := BadRequest("invalid input"); err.Code != InvalidParams {
			t.Error("BadRequest should use InvalidParams code")
		}
	})

	t.Run("FrozenError", func(t *testing.T) {
		err := FrozenError("Cannot run code during red light!")
		if err.Code != SessionFrozen {
			t.Error("FrozenError should use SessionFrozen code")
		}
		if err.Error() != "Cannot run code during red light!" {
			t.Errorf("Error() = %v", err.Error())
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError("score", "negative")
		if err.Code != ValidationFailed {
			t.Error("ValidationError should use ValidationFailed code")
		}
		if err.Details["field"] != "score" {
			t.Error("Field detail not set")
		}
	})
}

func TestWrapKeepsCauseCode(t *testing.T) {
	cause := New(TeamNotFound)
	outer := Wrapf(cause, ScoreRecordFailed, "record for %s", "t1")

	if cause.Code != TeamNotFound {
		t.Errorf("cause code mutated to %v", cause.Code)
	}
	if GetCode(outer) != ScoreRecordFailed {
		t.Errorf("GetCode() = %v, want %v", GetCode(outer), ScoreRecordFailed)
	}
	if !errors.Is(outer, cause) {
		t.Error("outer error should unwrap to cause")
	}
}

func TestStackTraceCapturesCaller(t *testing.T) {
	err := New(InternalServerError)
	if trace := err.StackTrace(); !strings.Contains(trace, "TestStackTraceCapturesCaller") {
		t.Errorf("stack trace missing caller frame: %s", trace)
	}
}

func TestGetErrorWrapsForeignErrors(t *testing.T) {
	foreign := errors.New("disk full")
	e := GetError(foreign)
	if e.Code != InternalServerError || e.Unwrap() != foreign {
		t.Errorf("unexpected wrap: %+v", e)
	}
}
