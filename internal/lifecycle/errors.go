package lifecycle

import "fmt"

// ProvisionError is a fatal provisioning failure: the CA could not issue
// or the deploy directory could not be populated. Never retried
// automatically.
type ProvisionError struct {
	Domain string
	Err    error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: %v", e.Domain, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// ConfigurationError is a fatal renewal-configuration failure: the deploy
// hook could not be written or the schedule store could not be updated.
type ConfigurationError struct {
	Domain string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configure renewal for %s: %v", e.Domain, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
