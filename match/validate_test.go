package match

import (
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)


func TestValidateLogin(t *testing.T) {
	err := ValidateLogin(&LoginArgs{})
	assert.Equal(t, err, ValidationErrors{
		"emailId": "Email is required.",
		"password": "Password is required.",
	})

	err = ValidateLogin(&LoginArgs{
		EmailId: "me@example.com",
		Password: "secret",
	})
	assert.Equal(t, err, nil)
}

func TestValidateSignup(t *testing.T) {
	age := 12
	err := ValidateSignup(&SignupArgs{
		FirstName: "Ann",
		EmailId: "ann@",
		Password: "password",
		Age: &age,
		Gender: "robot",
	})
	validationErrors, ok := err.(ValidationErrors)
	assert.Equal(t, ok, true)
	assert.Equal(t, validationErrors["lastName"], "Last name is required")
	assert.Equal(t, validationErrors["emailId"], "Please enter a valid email address")
	assert.Equal(t, validationErrors["password"], "Password must contain: one uppercase letter, one number, one special character")
	assert.Equal(t, validationErrors["age"], "Age must be between 18 and 120")
	assert.Equal(t, validationErrors["gender"], "Gender must be one of male, female, others")
	_, ok = validationErrors["firstName"]
	assert.Equal(t, ok, false)
	assert.Equal(t, strings.HasPrefix(err.Error(), "age: "), true)
}

func TestPasswordProblems(t *testing.T) {
	assert.Equal(t, PasswordProblems("Strong@123"), []string{})
	assert.Equal(t, PasswordProblems("Sh@1"), []string{"at least 8 characters"})
	assert.Equal(t, len(PasswordProblems("")), 5)
}

func TestParseSkills(t *testing.T) {
	assert.Equal(t, ParseSkills(""), []string{})
	assert.Equal(t, ParseSkills(" go ,  ,sql,"), []string{"go", "sql"})
}

func TestValidateImage(t *testing.T) {
	assert.Equal(t, ValidateImage(nil), ValidationErrors{"image": "No image selected"})
	assert.Equal(t, ValidateImage(&UploadImageArgs{ContentType: "image/png"}), ValidationErrors{"image": "No image selected"})
	assert.Equal(t, ValidateImage(&UploadImageArgs{
		ContentType: "image/webp",
		Content: []byte{1},
	}), ValidationErrors{"image": "Please select a valid image file (JPEG, PNG, GIF)"})
	assert.Equal(t, ValidateImage(&UploadImageArgs{
		ContentType: "image/gif",
		Content: make([]byte, MaxImageByteCount),
	}), nil)
}
