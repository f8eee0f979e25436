package hudbus

import (
	"fmt"
	"regexp"
	"strings"
)

// Event names are "namespace:action" or "namespace:id:action",
// e.g. "health:changed" or "enemy:42:died".
var eventNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(:[A-Za-z0-9_.-]+){1,2}$`)

// ValidateEventName reports whether name follows the two- or three-part
// naming convention.
func ValidateEventName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidEventName)
	}
	if !eventNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must look like namespace:action or namespace:id:action", ErrInvalidEventName, name)
	}
	return nil
}

// EventName joins a namespace and an action.
func EventName(namespace, action string) string {
	return namespace + ":" + action
}

// InstanceEventName builds a per-instance name.
func InstanceEventName(namespace, id, action string) string {
	return namespace + ":" + id + ":" + action
}

// SplitEventName breaks a name into its parts. id is empty for two-part names.
func SplitEventName(name string) (namespace, id, action string, err error) {
	if err = ValidateEventName(name); err != nil {
		return "", "", "", err
	}
	parts := strings.Split(name, ":")
	if len(parts) == 2 {
		return parts[0], "", parts[1], nil
	}
	return parts[0], parts[1], parts[2], nil
}
