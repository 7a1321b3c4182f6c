package validator

import (
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
)

type testPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Code     string `json:"code" validate:"required,vcode"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Email:    "alice@example.com",
		Password: "correct-horse",
		Code:     "q3Zx_9-abcdEFGH",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		Email:    "invalid",
		Password: "short",
		Code:     "has spaces in it",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundCode := false
	for _, v := range vErrs {
		if v.Field == "code" && v.Tag == "vcode" {
			foundCode = true
		}
	}

	if !foundCode {
		t.Fatal("expected code field to fail the vcode rule")
	}
	if !strings.Contains(vErrs.Error(), "password failed on min=8") {
		t.Fatalf("expected min rule in message, got %q", vErrs.Error())
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("seatkeeper", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "seatkeeper"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"seatkeeper"`
	}

	if err := ValidateStruct(custom{Value: "seatkeeper"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
