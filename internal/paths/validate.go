package paths

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateProfile checks that name is usable as a directory name.
func ValidateProfile(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match %s", name, nameRegexp)
	}
	return nil
}

var instanceRegexp = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ValidateInstance checks a gateway instance name. It ends up in URL paths,
// so separators and spaces are refused.
func ValidateInstance(name string) error {
	if !instanceRegexp.MatchString(name) {
		return fmt.Errorf("invalid instance name %q: must match %s", name, instanceRegexp)
	}
	return nil
}
