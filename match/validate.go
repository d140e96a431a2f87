package match

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/exp/maps"
)


const MinSignupPasswordLength = 8
const MaxImageByteCount = 5 * 1024 * 1024

var AllowedImageContentTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
var upperPattern = regexp.MustCompile(`[A-Z]`)
var lowerPattern = regexp.MustCompile(`[a-z]`)
var digitPattern = regexp.MustCompile(`\d`)
var specialPattern = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)


var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their wire name
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("email_address", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("strong_password", func(fl validator.FieldLevel) bool {
		return len(PasswordProblems(fl.Field().String())) == 0
	})
	return v
}


// field name -> message. Blocks submission, never reaches the network
type ValidationErrors map[string]string

func (self ValidationErrors) Error() string {
	fields := maps.Keys(self)
	sort.Strings(fields)
	parts := []string{}
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, self[field]))
	}
	return strings.Join(parts, "; ")
}

func IsValidationError(err error) bool {
	var validationErrors ValidationErrors
	return errors.As(err, &validationErrors)
}


// the rules a signup password misses, e.g. "one uppercase letter"
func PasswordProblems(password string) []string {
	problems := []string{}
	if len(password) < MinSignupPasswordLength {
		problems = append(problems, fmt.Sprintf("at least %d characters", MinSignupPasswordLength))
	}
	if !upperPattern.MatchString(password) {
		problems = append(problems, "one uppercase letter")
	}
	if !lowerPattern.MatchString(password) {
		problems = append(problems, "one lowercase letter")
	}
	if !digitPattern.MatchString(password) {
		problems = append(problems, "one number")
	}
	if !specialPattern.MatchString(password) {
		problems = append(problems, "one special character")
	}
	return problems
}

// comma separated skills, trimmed, empty entries dropped
func ParseSkills(skills string) []string {
	parsed := []string{}
	for _, skill := range strings.Split(skills, ",") {
		skill = strings.TrimSpace(skill)
		if skill != "" {
			parsed = append(parsed, skill)
		}
	}
	return parsed
}


func ValidateLogin(login *LoginArgs) error {
	return validateStruct(login, func(field string, tag string) string {
		switch {
		case field == "emailId" && tag == "required":
			return "Email is required."
		case field == "emailId":
			return "Enter a valid email."
		case field == "password" && tag == "required":
			return "Password is required."
		default:
			return "Password must be at least 6 characters."
		}
	})
}

func ValidateSignup(signup *SignupArgs) error {
	return validateStruct(signup, func(field string, tag string) string {
		switch field {
		case "firstName":
			return "First name is required"
		case "lastName":
			return "Last name is required"
		case "emailId":
			if tag == "required" {
				return "Email is required"
			}
			return "Please enter a valid email address"
		case "password":
			if tag == "required" {
				return "Password is required"
			}
			return fmt.Sprintf("Password must contain: %s", strings.Join(PasswordProblems(signup.Password), ", "))
		case "age":
			return "Age must be between 18 and 120"
		case "gender":
			return "Gender must be one of male, female, others"
		case "photoUrl":
			return "Invalid image URL"
		default:
			return fmt.Sprintf("Invalid %s", field)
		}
	})
}

func ValidateProfilePatch(patch *ProfilePatch) error {
	return validateStruct(patch, func(field string, tag string) string {
		switch field {
		case "age":
			return "Age must be between 18 and 120"
		case "gender":
			return "Gender must be one of male, female, others"
		case "photoUrl":
			return "Invalid image URL"
		case "about":
			return "About must be at most 500 characters"
		case "skills":
			return "At most 20 skills"
		default:
			return fmt.Sprintf("Invalid %s", field)
		}
	})
}

func ValidateImage(uploadImage *UploadImageArgs) error {
	if uploadImage == nil || len(uploadImage.Content) == 0 {
		return ValidationErrors{"image": "No image selected"}
	}
	if !slices.Contains(AllowedImageContentTypes, uploadImage.ContentType) {
		return ValidationErrors{"image": "Please select a valid image file (JPEG, PNG, GIF)"}
	}
	if MaxImageByteCount < len(uploadImage.Content) {
		return ValidationErrors{"image": "Image size should be less than 5MB"}
	}
	return nil
}


func validateStruct(s any, message func(field string, tag string) string) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	validationErrors := ValidationErrors{}
	for _, fieldError := range fieldErrors {
		field := fieldError.Field()
		if _, ok := validationErrors[field]; ok {
			// keep the first error per field
			continue
		}
		validationErrors[field] = message(field, fieldError.Tag())
	}
	return validationErrors
}
