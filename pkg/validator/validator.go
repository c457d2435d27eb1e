package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

var (
	clockPattern      = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)
	personNamePattern = regexp.MustCompile(`^[a-zA-Z\s.]+$`)
)

// New returns a validator using the same tag name and custom rules as gin binding.
func New() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	if err := Register(v); err != nil {
		panic(err)
	}
	return v
}

// RegisterBinding installs the custom rules on gin's default validator.
func RegisterBinding() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
	}
	return Register(v)
}

// Register adds clocktime, calendardate, personname and clockafter rules to v
// and reports field names by their json tag.
func Register(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	rules := map[string]validator.Func{
		"clocktime":    isClockTime,
		"calendardate": isCalendarDate,
		"personname":   isPersonName,
		"clockafter":   isClockAfter,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s: %w", tag, err)
		}
	}
	return nil
}

func isClockTime(fl validator.FieldLevel) bool {
	return clockPattern.MatchString(fl.Field().String())
}

func isCalendarDate(fl validator.FieldLevel) bool {
	_, err := time.Parse(dateLayout, fl.Field().String())
	return err == nil
}

func isPersonName(fl validator.FieldLevel) bool {
	return personNamePattern.MatchString(fl.Field().String())
}

// isClockAfter checks the field is a later HH:MM than the sibling named by the param.
func isClockAfter(fl validator.FieldLevel) bool {
	other, kind, _, found := fl.GetStructFieldOKAdvanced2(fl.Parent(), fl.Param())
	if !found || kind != reflect.String {
		return false
	}
	end, err := time.Parse(clockLayout, fl.Field().String())
	if err != nil {
		return false
	}
	start, err := time.Parse(clockLayout, other.String())
	if err != nil {
		return false
	}
	return end.After(start)
}

// Describe flattens validation failures into one readable message.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return strings.Join(msgs, "; ")
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "clocktime":
		return fmt.Sprintf("%s must be a time in HH:MM format", fe.Field())
	case "calendardate":
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD format", fe.Field())
	case "clockafter":
		return fmt.Sprintf("%s must be after %s", fe.Field(), fe.Param())
	case "personname":
		return fmt.Sprintf("%s may only contain letters, spaces and dots", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
