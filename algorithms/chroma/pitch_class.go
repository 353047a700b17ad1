package chroma

import (
	"fmt"
	"strings"
)

// PitchClass is an octave-free note name, 0=C through 11=B
type PitchClass int

const (
	C PitchClass = iota
	CSharp
	D
	DSharp
	E
	F
	FSharp
	G
	GSharp
	A
	ASharp
	B
)

// NumPitchClasses is the size of the equal-tempered chromatic scale
const NumPitchClasses = 12

var pitchClassNames = [NumPitchClasses]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// flat spellings map onto the sharp-named class
var flatAliases = map[string]PitchClass{
	"DB": CSharp,
	"EB": DSharp,
	"GB": FSharp,
	"AB": GSharp,
	"BB": ASharp,
}

// String returns the sharp spelling, e.g. "C#"
func (pc PitchClass) String() string {
	if !pc.Valid() {
		return fmt.Sprintf("PitchClass(%d)", int(pc))
	}
	return pitchClassNames[pc]
}

// Valid reports whether pc is in 0..11
func (pc PitchClass) Valid() bool {
	return pc >= C && pc <= B
}

// MarshalText implements encoding.TextMarshaler so events serialise as "E", not 4
func (pc PitchClass) MarshalText() ([]byte, error) {
	if !pc.Valid() {
		return nil, fmt.Errorf("chroma: invalid pitch class %d", int(pc))
	}
	return []byte(pc.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (pc *PitchClass) UnmarshalText(text []byte) error {
	parsed, err := ParsePitchClass(string(text))
	if err != nil {
		return err
	}
	*pc = parsed
	return nil
}

// ParsePitchClass accepts sharp ("C#") and flat ("Db") spellings, case-insensitively
func ParsePitchClass(s string) (PitchClass, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range pitchClassNames {
		if name == n {
			return PitchClass(i), nil
		}
	}
	if pc, ok := flatAliases[name]; ok {
		return pc, nil
	}
	return 0, fmt.Errorf("chroma: unknown pitch class %q", s)
}

// AllPitchClasses returns C through B in order
func AllPitchClasses() []PitchClass {
	out := make([]PitchClass, NumPitchClasses)
	for i := range out {
		out[i] = PitchClass(i)
	}
	return out
}
