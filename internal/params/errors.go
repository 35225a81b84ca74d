package params

import "fmt"

// ConfigurationError reports one violated parameter constraint. It is always
// fatal and always raised before any stage instance exists.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
