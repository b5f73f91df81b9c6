package principal

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/fatracker/core"
)

const (
	passwordMinLength     = 8
	passwordMaxSimilarity = 0.7
)

var (
	assignableRolesTag  = "assignable_roles"
	assignableRolesText = "invalid roles"

	kindTag  = "principal_kind"
	kindText = "must be one of: staff, student"

	registrationTag   = "registration"
	registrationText  = "must only contain digits and capital letters"
	registrationRegex = regexp.MustCompile(`^[0-9A-Z]+$`)

	errPasswordTooShort   = "this password is too short; it must contain at least 8 characters"
	errPasswordNumeric    = "this password is entirely numeric"
	errPasswordTooSimilar = "the password is too similar to the "
)

// InitValidators registers the principal specific validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(assignableRolesTag, assignableRolesValidation)
	core.RegisterCustomTranslation(validate, translator, assignableRolesTag, assignableRolesText)

	_ = validate.RegisterValidation(kindTag, kindValidation)
	core.RegisterCustomTranslation(validate, translator, kindTag, kindText)

	_ = validate.RegisterValidation(registrationTag, registrationValidation)
	core.RegisterCustomTranslation(validate, translator, registrationTag, registrationText)
}

// assignableRolesValidation checks that the provided roles are all assignable.
func assignableRolesValidation(fl validator.FieldLevel) bool {
	roles, ok := fl.Field().Interface().([]Role)
	if !ok {
		return false
	}
	for _, r := range roles {
		if !r.Assignable() {
			return false
		}
	}
	return true
}

func kindValidation(fl validator.FieldLevel) bool {
	return Kind(fl.Field().String()).Valid()
}

func registrationValidation(fl validator.FieldLevel) bool {
	return registrationRegex.MatchString(fl.Field().String())
}

// ValidatePassword checks pwd against the password policy: a minimum length,
// not entirely numeric and not too similar to the principal's attributes.
func ValidatePassword(pwd string, p Principal) error {
	var fldErrs []core.FieldError
	if len(pwd) < passwordMinLength {
		fldErrs = append(fldErrs, core.FieldError{Field: "password", Error: errPasswordTooShort})
	}
	if isNumeric(pwd) {
		fldErrs = append(fldErrs, core.FieldError{Field: "password", Error: errPasswordNumeric})
	}
	if attr, ok := tooSimilar(pwd, p); ok {
		fldErrs = append(fldErrs, core.FieldError{Field: "password", Error: errPasswordTooSimilar + attr})
	}
	if len(fldErrs) > 0 {
		return core.NewValidationError(errors.New(fldErrs[0].Error), fldErrs...)
	}
	return nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// tooSimilar compares pwd with each attribute of p (and each word of it) the way
// difflib's SequenceMatcher does, and returns the first attribute that is too close.
func tooSimilar(pwd string, p Principal) (string, bool) {
	attrs := []struct{ name, value string }{
		{"name", p.Name},
		{"email", p.Email},
		{"registration", p.Registration},
	}
	pwd = strings.ToLower(pwd)
	for _, attr := range attrs {
		if attr.value == "" {
			continue
		}
		value := strings.ToLower(attr.value)
		parts := append([]string{value}, strings.FieldsFunc(value, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})...)
		for _, part := range parts {
			m := difflib.NewMatcher(splitChars(pwd), splitChars(part))
			if m.QuickRatio() >= passwordMaxSimilarity && m.Ratio() >= passwordMaxSimilarity {
				return attr.name, true
			}
		}
	}
	return "", false
}

func splitChars(s string) []string {
	chars := make([]string, 0, len(s))
	for _, r := range s {
		chars = append(chars, string(r))
	}
	return chars
}

// NewStaff contains information needed to create a staff member.
// A password is generated and emailed when none is given.
type NewStaff struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Roles    []Role `json:"roles" validate:"omitempty,assignable_roles"`
	Password string `json:"password"`
}

func (ns *NewStaff) Validate(ctx context.Context, validate *validator.Validate, repo Repository) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Email = core.CleanString(ns.Email, true /* lower */)

	if err := validate.Struct(ns); err != nil {
		return err
	}
	if ns.Password != "" {
		if err := ValidatePassword(ns.Password, Principal{Name: ns.Name, Email: ns.Email}); err != nil {
			return err
		}
	}
	exists, err := repo.EmailExists(ctx, KindStaff, ns.Email)
	if err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
	}
	return nil
}

// NewStudent contains information needed to create a student.
// A password is generated and emailed when none is given.
type NewStudent struct {
	Name         string `json:"name" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
	Registration string `json:"registration" validate:"required,registration"`
	Password     string `json:"password"`
}

func (ns *NewStudent) Validate(ctx context.Context, validate *validator.Validate, repo Repository) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	ns.Registration = strings.ToUpper(core.CleanString(ns.Registration))

	if err := validate.Struct(ns); err != nil {
		return err
	}
	if ns.Password != "" {
		p := Principal{Name: ns.Name, Email: ns.Email, Registration: ns.Registration}
		if err := ValidatePassword(ns.Password, p); err != nil {
			return err
		}
	}

	exists, err := repo.EmailExists(ctx, KindStudent, ns.Email)
	if err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
	}
	if exists, err = repo.RegistrationExists(ctx, ns.Registration); err != nil {
		return errors.Wrap(err, "checking registration uniqueness")
	}
	if exists {
		return core.NewValidationError(
			ErrRegistrationExists,
			core.FieldError{Field: "registration", Error: ErrRegistrationExists.Error()},
		)
	}
	return nil
}

// UpdatePrincipal defines what a principal's profile may change; empty fields are left unchanged.
type UpdatePrincipal struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"omitempty,email"`
}

func (up *UpdatePrincipal) Validate(validate *validator.Validate) error {
	up.Name = core.CleanString(up.Name)
	up.Email = core.CleanString(up.Email, true /* lower */)
	return validate.Struct(up)
}

// StaffFilter narrows a staff listing to whoever holds any of Roles, or to whoever holds none of ExcludeRoles.
// The two cannot be combined.
type StaffFilter struct {
	Roles        []Role
	ExcludeRoles []Role
}

func (f StaffFilter) Validate() error {
	if len(f.Roles) > 0 && len(f.ExcludeRoles) > 0 {
		return core.NewValidationError(ErrFilterConflict, core.FieldError{Field: "exclude_roles", Error: ErrFilterConflict.Error()})
	}
	return nil
}

func (f StaffFilter) match(p Principal) bool {
	if len(f.Roles) > 0 {
		return p.Roles.HasAny(f.Roles...)
	}
	return !p.Roles.HasAny(f.ExcludeRoles...)
}
