package service

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"video-job-orchestrator/internal/entity"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

// ValidateRequest checks the fields the pipeline can't start without and
// reports each failure by its path, e.g. "Brief.Topic".
func ValidateRequest(req entity.JobRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &entity.ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, entity.FieldError{
			Field:   strings.TrimPrefix(fe.StructNamespace(), "JobRequest."),
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank", "required":
		return "is required and must not be blank"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
