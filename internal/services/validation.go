package services

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var phonePattern = regexp.MustCompile(`^\d{10,11}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// fieldMessages maps "field.tag" to the message surfaced to callers.
var fieldMessages = map[string]string{
	"username.required": "Username is required",
	"username.min":      "Username must be at least 3 characters long",
	"username.max":      "Username must be at most 50 characters long",
	"password.required": "Password is required",
	"password.min":      "Password must be at least 6 characters long",
	"password.max":      "Password must be at most 72 characters long",
	"name.required":     "Name is required",
	"name.min":          "Name must be at least 3 characters long",
	"name.max":          "Name must be at most 100 characters long",
	"email.required":    "Invalid email address",
	"email.email":       "Invalid email address",
	"email.max":         "Email must be at most 100 characters long",
	"phone.required":    "Phone number must be 10 or 11 digits long and contain only digits",
	"phone.phone":       "Phone number must be 10 or 11 digits long and contain only digits",

	"title.required":            "Title is required",
	"title.max":                 "Title must be at most 200 characters long",
	"author.required":           "Author is required",
	"author.max":                "Author must be at most 100 characters long",
	"isbn.required":             "ISBN is required",
	"isbn.max":                  "ISBN must be at most 20 characters long",
	"publisher.required":        "Publisher is required",
	"publisher.max":             "Publisher must be at most 100 characters long",
	"publication_year.required": "Publication year is required",
	"publication_year.min":      "Invalid publication year",
	"total_copies.required":     "Total copies is required",
	"total_copies.min":          "Total copies must be at least 1",
	"location.required":         "Location is required",
	"location.max":              "Location must be at most 50 characters long",
}

// validateStruct runs the struct's validate tags and converts failures into
// a *ValidationError.
func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Add(fe.Field(), messageFor(fe.Field(), fe.Tag()))
	}
	return out
}

// validateVar checks a single value against tag and reports it under field.
func validateVar(field string, value interface{}, tag string) error {
	err := validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Add(field, messageFor(field, fe.Tag()))
	}
	return out
}

func messageFor(field, tag string) string {
	if msg, ok := fieldMessages[field+"."+tag]; ok {
		return msg
	}
	return fmt.Sprintf("%s failed %s validation", field, tag)
}
