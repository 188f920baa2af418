package capture

import (
	"fmt"
	"strings"
)

// ScreenPrefix marks a source ID that names a full screen rather than a window.
const ScreenPrefix = "screen:"

// SelectScreenSource picks the first full-screen source, falling back to the
// first source of any type.
func SelectScreenSource(sources []ScreenSource) (ScreenSource, error) {
	if len(sources) == 0 {
		return ScreenSource{}, fmt.Errorf("%w: no screen sources available", ErrNoSourceFound)
	}
	for _, s := range sources {
		if strings.HasPrefix(s.ID, ScreenPrefix) {
			return s, nil
		}
	}
	return sources[0], nil
}
