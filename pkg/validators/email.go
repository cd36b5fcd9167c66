// Package validators contains validators found throughout the application
// that have been abstracted away from the main code
package validators

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	ErrEmailEmpty   = errors.New("no email address provided")
	ErrEmailInvalid = errors.New("invalid email address provided")
	ErrEmailDomain  = errors.New("email address is not from the allowed domain")
)

func EmailValidator(e string) error {
	if e == "" {
		return ErrEmailEmpty
	}

	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e {
		return ErrEmailInvalid
	}

	return nil
}

// CampusEmailValidator accepts only well formed addresses ending with domain,
// e.g. "@bue.edu.eg". The comparison ignores case.
func CampusEmailValidator(e, domain string) error {
	e = strings.TrimSpace(e)

	if err := EmailValidator(e); err != nil {
		return err
	}

	if !strings.HasSuffix(strings.ToLower(e), strings.ToLower(domain)) {
		return ErrEmailDomain
	}

	return nil
}
