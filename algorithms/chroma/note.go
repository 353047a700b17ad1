package chroma

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// ReferenceFrequency is A4 in Hz
	ReferenceFrequency = 440.0

	// referenceIndex is A4 counted in semitones from C0
	referenceIndex = 57

	// MinOctave and MaxOctave bound the notes the mapper reports
	MinOctave = 2
	MaxOctave = 7
)

// Note is a fully resolved equal-tempered note
type Note struct {
	Class  PitchClass `json:"pitch_class"`
	Octave int        `json:"octave"`
	Cents  float64    `json:"cents"` // deviation of the input frequency from the note, in [-50, 50]
}

// String returns scientific pitch notation, e.g. "E4"
func (n Note) String() string {
	return n.Class.String() + strconv.Itoa(n.Octave)
}

// Frequency returns the equal-tempered frequency of the note, ignoring Cents
func (n Note) Frequency() float64 {
	return Frequency(n.Class, n.Octave)
}

// NoteMapper quantises frequencies to the nearest equal-tempered semitone
// relative to A4 = 440 Hz and rejects notes outside octaves 2 through 7.
type NoteMapper struct {
	minOctave int
	maxOctave int
}

// NewNoteMapper creates a mapper over the default octave range
func NewNoteMapper() *NoteMapper {
	return &NoteMapper{minOctave: MinOctave, maxOctave: MaxOctave}
}

// ToPitchClass returns the pitch class of freq, or false when freq is not a
// positive finite number or falls outside the accepted octave range.
func (m *NoteMapper) ToPitchClass(freq float64) (PitchClass, bool) {
	note, ok := m.Resolve(freq)
	if !ok {
		return 0, false
	}
	return note.Class, true
}

// Resolve is ToPitchClass keeping the octave and the cents deviation
func (m *NoteMapper) Resolve(freq float64) (Note, bool) {
	if freq <= 0 || math.IsNaN(freq) || math.IsInf(freq, 0) {
		return Note{}, false
	}

	exact := 12 * math.Log2(freq/ReferenceFrequency)
	halfSteps := math.Round(exact)
	noteIndex := int(halfSteps) + referenceIndex

	octave := floorDiv(noteIndex, NumPitchClasses)
	if octave < m.minOctave || octave > m.maxOctave {
		return Note{}, false
	}

	class := ((noteIndex % NumPitchClasses) + NumPitchClasses) % NumPitchClasses
	return Note{
		Class:  PitchClass(class),
		Octave: octave,
		Cents:  (exact - halfSteps) * 100,
	}, true
}

// Frequency returns the equal-tempered frequency of class in octave
func Frequency(class PitchClass, octave int) float64 {
	noteIndex := octave*NumPitchClasses + int(class)
	return ReferenceFrequency * math.Pow(2, float64(noteIndex-referenceIndex)/12)
}

// ParseNote parses scientific pitch notation such as "E4", "C#3" or "Bb2"
func ParseNote(s string) (Note, error) {
	s = strings.TrimSpace(s)
	split := strings.IndexFunc(s, func(r rune) bool {
		return r == '-' || (r >= '0' && r <= '9')
	})
	if split <= 0 {
		return Note{}, fmt.Errorf("chroma: invalid note %q", s)
	}

	class, err := ParsePitchClass(s[:split])
	if err != nil {
		return Note{}, err
	}
	octave, err := strconv.Atoi(s[split:])
	if err != nil {
		return Note{}, fmt.Errorf("chroma: invalid octave in %q: %w", s, err)
	}
	return Note{Class: class, Octave: octave}, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
