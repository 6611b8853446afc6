package pricing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownProduct is returned when a top-level request names a product
	// that is not in the index. Missing components are skipped instead.
	ErrUnknownProduct = errors.New("pricing: unknown product")
	// ErrCyclicComposition matches any *CyclicCompositionError.
	ErrCyclicComposition = errors.New("pricing: cyclic composition")
)

// CyclicCompositionError reports a composite that includes itself through
// its components. Path starts and ends with the repeated identifier.
type CyclicCompositionError struct {
	Path []string
}

func (e *CyclicCompositionError) Error() string {
	return fmt.Sprintf("pricing: cyclic composition: %s", strings.Join(e.Path, " -> "))
}

// Is lets errors.Is match ErrCyclicComposition.
func (e *CyclicCompositionError) Is(target error) bool {
	return target == ErrCyclicComposition
}
