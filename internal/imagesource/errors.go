package imagesource

import "fmt"

// Error reports a failure to load a scan image.
type Error struct {
	Operation string
	Path      string
	Err       error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("image source %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("image source %s %s: %v", e.Operation, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
