package deps

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Checker verifies that the external tools the bot shells out to exist.
type Checker struct {
	dependencies []string
	lookPath     func(string) (string, error)
}

// NewChecker creates a checker for the given executables.
func NewChecker(deps ...string) *Checker {
	return &Checker{dependencies: deps, lookPath: exec.LookPath}
}

// CheckAll returns a *MissingDepsError naming every executable not found.
func (c *Checker) CheckAll() error {
	var missing []string
	for _, dep := range c.dependencies {
		if !c.IsAvailable(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &MissingDepsError{Dependencies: missing}
	}
	return nil
}

// IsAvailable reports whether name resolves to an executable.
func (c *Checker) IsAvailable(name string) bool {
	_, err := c.lookPath(name)
	return err == nil
}

// CheckAndPrint writes one status line per dependency to w.
func (c *Checker) CheckAndPrint(w io.Writer) error {
	var missing []string
	for _, dep := range c.dependencies {
		path, err := c.lookPath(dep)
		if err == nil {
			fmt.Fprintf(w, "[OK]    %s (%s)\n", dep, path)
			continue
		}
		fmt.Fprintf(w, "[ERROR] '%s' not found\n", dep)
		missing = append(missing, dep)
	}
	if len(missing) > 0 {
		fmt.Fprintf(w, "[INFO]  Install %s and retry\n", strings.Join(missing, ", "))
		return &MissingDepsError{Dependencies: missing}
	}
	return nil
}

// MissingDepsError is returned when required dependencies are missing.
type MissingDepsError struct {
	Dependencies []string
}

func (e *MissingDepsError) Error() string {
	return fmt.Sprintf("missing dependencies: %s", strings.Join(e.Dependencies, ", "))
}
