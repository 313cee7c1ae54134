package main

import (
	"errors"
	"fmt"
	"os"
)

const (
	ExitSuccess        = 0
	ExitInvalidPayload = 1
	ExitError          = 2
)

// InvalidPayloadError reports that a payload was checked successfully and
// did not conform to the relay schema.
type InvalidPayloadError struct {
	Problems []string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("payload does not match schema (%d problems)", len(e.Problems))
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var invalidPayloadErr *InvalidPayloadError
		if errors.As(err, &invalidPayloadErr) {
			os.Exit(ExitInvalidPayload)
		}
		os.Exit(ExitError)
	}
}
