package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoWorkflow is returned by Parse when the tenant has no graph configured.
var ErrNoWorkflow = errors.New("no workflow configured")

// ConfigurationError reports a malformed workflow document.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid workflow: " + strings.Join(e.Problems, "; ")
}

// GraphIntegrityError reports a reference to a block id that does not exist.
type GraphIntegrityError struct {
	BlockID string
}

func (e *GraphIntegrityError) Error() string {
	return fmt.Sprintf("workflow references unknown block %q", e.BlockID)
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var c *ConfigurationError
	return errors.As(err, &c)
}

// IsGraphIntegrityError reports whether err is, or wraps, a GraphIntegrityError.
func IsGraphIntegrityError(err error) bool {
	var g *GraphIntegrityError
	return errors.As(err, &g)
}
