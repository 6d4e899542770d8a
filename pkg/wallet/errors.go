package wallet

import "moff.io/moff-wallet/pkg/errors"

var (
	// ErrConnection is returned by Connect when the chooser produced no provider,
	// e.g. the user closed the picker.
	ErrConnection = errors.New("wallet: chooser returned no provider")

	ErrRegistration = errors.New("wallet: subscriber registration failed")

	ErrTeardown = errors.New("wallet: teardown failed")

	errNoChooser = errors.New("wallet: no chooser configured")
)

// TeardownError is a failure in one disconnect step. Disconnect only logs it.
type TeardownError struct {
	Step string
	Err  error
}

func (e *TeardownError) Error() string {
	return "wallet: teardown " + e.Step + ": " + e.Err.Error()
}

func (e *TeardownError) Unwrap() error { return e.Err }

func (e *TeardownError) Is(target error) bool { return target == ErrTeardown }

type RegistrationError struct {
	Err error
}

func (e *RegistrationError) Error() string {
	return "wallet: register subscriber: " + e.Err.Error()
}

func (e *RegistrationError) Unwrap() error { return e.Err }

func (e *RegistrationError) Is(target error) bool { return target == ErrRegistration }
