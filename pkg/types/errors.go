package types

import "errors"

var (
	// ErrInvalidInput marks malformed feature grids and non-numeric custom fields
	ErrInvalidInput = errors.New("invalid input")

	// ErrModelFormat marks a snapshot that does not fit the classifier architecture
	ErrModelFormat = errors.New("model snapshot does not match architecture")

	// ErrEmptyPalette marks a production method with no candidate colors
	ErrEmptyPalette = errors.New("empty logo palette")

	// ErrDegenerateLogo marks a logo with no detectable visible region
	ErrDegenerateLogo = errors.New("logo has no visible region")

	// ErrMissingCategoryDefaults marks a category absent from the layout defaults
	ErrMissingCategoryDefaults = errors.New("no layout defaults for category")

	// ErrUnknownLogo marks a catalog logo name that is not in the store
	ErrUnknownLogo = errors.New("unknown catalog logo")
)

// IsClientError reports whether err was caused by the request rather than the server
func IsClientError(err error) bool {
	for _, target := range []error{ErrInvalidInput, ErrEmptyPalette, ErrDegenerateLogo, ErrMissingCategoryDefaults, ErrUnknownLogo} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
