package service

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/zhenyuanlu/haybeat/internal"
)

var validate = validator.New()

// validationError reports the first failed field of a validator error as an
// internal.ErrValidation.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed on %q", internal.ErrValidation, fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", internal.ErrValidation, err)
}

func requireUser(user *internal.User) error {
	if user == nil || user.ID == "" {
		return internal.ErrNotAuthenticated
	}
	return nil
}
