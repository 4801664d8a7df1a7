package chat

import "fmt"

// panicError turns a recovered panic value into an error, matching the
// panic-recovery convention of the teacher's tool executor.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("tool panicked: %v", r)
}
