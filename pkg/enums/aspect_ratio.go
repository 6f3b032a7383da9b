package enums

import "fmt"

// AspectCode is the compact aspect marker used in recording folder names.
type AspectCode string

const (
	AspectCodePortrait  AspectCode = "916"
	AspectCodeLandscape AspectCode = "169"
	AspectCodeSquare    AspectCode = "11"
)

var aspectRatios = map[AspectCode]string{
	AspectCodePortrait:  "9:16",
	AspectCodeLandscape: "16:9",
	AspectCodeSquare:    "1:1",
}

func (a AspectCode) String() string {
	return string(a)
}

func (a AspectCode) IsValid() bool {
	_, ok := aspectRatios[a]
	return ok
}

// Ratio returns the human form, e.g. "9:16".
func (a AspectCode) Ratio() string {
	return aspectRatios[a]
}

// IsPortrait reports whether the frame is taller than it is wide.
func (a AspectCode) IsPortrait() bool {
	return a == AspectCodePortrait
}

func ParseAspectCode(value string) (AspectCode, error) {
	code := AspectCode(value)
	if !code.IsValid() {
		return "", fmt.Errorf("invalid aspect code %q", value)
	}
	return code, nil
}
