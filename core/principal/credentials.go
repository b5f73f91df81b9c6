package principal

import (
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when a username matches nobody so that
// unknown users take as long to reject as wrong passwords.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("fatracker.dummy.password"), bcrypt.DefaultCost)

// HashPassword returns the bcrypt hash of pwd.
func HashPassword(pwd string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
}

// VerifyPassword reports whether pwd matches hash. The comparison is constant time.
func VerifyPassword(hash []byte, pwd string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(pwd)) == nil
}

// VerifyNobody burns the same time as VerifyPassword and always fails.
func VerifyNobody(pwd string) bool {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(pwd))
	return false
}

func (p *Principal) SetPassword(pwd string) error {
	hash, err := HashPassword(pwd)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	return nil
}

func (p *Principal) CheckPassword(pwd string) bool {
	return VerifyPassword(p.PasswordHash, pwd)
}
