package testutil

import (
	"context"
	"io"
	"log"
	"testing"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/principal"
	"github.com/trezcool/fatracker/services/email"
	"github.com/trezcool/fatracker/services/logger"
)

// NewLogger returns a logger that reports nowhere.
func NewLogger() core.Logger {
	conf := core.NewTestConfig()
	l := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	l.Enable(false)
	return l
}

// NewValidator returns a validator with every custom validation registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	principal.InitValidators(validate, translator)
	return validate, translator
}

func NewMailer(conf *core.Config) *emailsvc.ConsoleServiceMock {
	return emailsvc.NewConsoleServiceMock(conf, NewLogger())
}

func CreateStaff(t *testing.T, repo principal.Repository, name, email, pwd string, roles ...principal.Role) principal.Principal {
	t.Helper()
	ctx := context.Background()

	p := principal.Principal{Name: name, Email: email}
	if err := p.SetPassword(pwd); err != nil {
		t.Fatalf("CreateStaff() failed: %v", err)
	}
	p, err := repo.CreateStaff(ctx, p)
	if err != nil {
		t.Fatalf("CreateStaff() failed: %v", err)
	}
	for _, r := range roles {
		if _, err = repo.AddRoleAssignment(ctx, p.ID, r); err != nil {
			t.Fatalf("CreateStaff() failed: %v", err)
		}
	}
	if p, err = repo.GetPrincipal(ctx, p.Ref); err != nil {
		t.Fatalf("CreateStaff() failed: %v", err)
	}
	return p
}

func CreateStudent(t *testing.T, repo principal.Repository, name, email, registration, pwd string) principal.Principal {
	t.Helper()

	p := principal.Principal{Name: name, Email: email, Registration: registration}
	if err := p.SetPassword(pwd); err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	p, err := repo.CreateStudent(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return p
}
