package schedule

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tfdgestao/relatorios/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return timeOfDayPattern.MatchString(fl.Field().String())
	})
	return v
}

// normalize trims free text and drops recurrence fields that do not apply to
// the chosen recurrence, so stale values never leak into ComputeNextRun.
func normalize(s *models.ReportSchedule) {
	s.Name = strings.TrimSpace(s.Name)
	s.Description = strings.TrimSpace(s.Description)
	s.TimeOfDay = strings.TrimSpace(s.TimeOfDay)
	for i, r := range s.Recipients {
		s.Recipients[i] = strings.TrimSpace(r)
	}

	if s.Recurrence != models.RecurrenceWeekly {
		s.Weekday = nil
	}
	if s.Recurrence != models.RecurrenceMonthly {
		s.DayOfMonth = nil
	}
}

// Validate checks a schedule definition and returns a *ValidationError
// describing every offending field.
func Validate(s *models.ReportSchedule) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate schedule: %w", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Namespace()
		if i := strings.Index(name, "."); i >= 0 {
			name = name[i+1:]
		}
		fields[name] = describe(fe)
	}
	return &ValidationError{Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_unless":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "email":
		return fmt.Sprintf("%q is not a valid email address", fe.Value())
	case "hhmm":
		return "must be HH:MM (24h)"
	default:
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}
