package formatter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"modbus-formatter/internal/model"
)

// DefaultBits is the bit pattern used for a parameter not reported this cycle.
const DefaultBits uint32 = 0x00000000

const defaultHex = "00000000"

// ErrMalformedValue is returned when a register value is not a base-10 integer.
var ErrMalformedValue = errors.New("malformed register value")

// Layout selects how two register words are joined into 32 bits.
type Layout int

const (
	// LayoutUnpadded concatenates the unpadded hex rendering of each word.
	// A word needing fewer than four digits shifts the bits of the next one.
	LayoutUnpadded Layout = iota
	// LayoutPadded joins the words as hi<<16 | lo.
	LayoutPadded
)

func (l Layout) String() string {
	switch l {
	case LayoutPadded:
		return "padded"
	default:
		return "unpadded"
	}
}

// ParseLayout maps a config value to a Layout. Empty means unpadded.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unpadded":
		return LayoutUnpadded, nil
	case "padded":
		return LayoutPadded, nil
	}
	return LayoutUnpadded, fmt.Errorf("unknown register layout %q", s)
}

// Decoder turns the register entries of one parameter into a float.
type Decoder struct {
	Layout Layout
}

// Decode reads the first two entries named parameterName (high word first)
// and reinterprets the joined bits as an IEEE-754 float32. No match yields
// the DefaultBits value.
func (d Decoder) Decode(entries []model.RawRecord, parameterName string) (float32, error) {
	words := make([]int32, 0, 2)
	for _, e := range entries {
		if e.DisplayName != parameterName {
			continue
		}
		n, err := parseWord(string(e.Value))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", parameterName, err)
		}
		words = append(words, n)
		if len(words) == 2 {
			break
		}
	}

	var bits uint32
	switch d.Layout {
	case LayoutPadded:
		bits = joinPadded(words)
	default:
		bits = joinUnpadded(words)
	}
	return math.Float32frombits(bits), nil
}

// Decode uses the unpadded layout.
func Decode(entries []model.RawRecord, parameterName string) (float32, error) {
	return Decoder{}.Decode(entries, parameterName)
}

func parseWord(v string) (int32, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedValue, v)
	}
	return int32(n), nil
}

func joinUnpadded(words []int32) uint32 {
	var sb strings.Builder
	for _, w := range words {
		sb.WriteString(strings.ToUpper(strconv.FormatUint(uint64(uint32(w)), 16)))
	}

	hex := sb.String()
	if hex == "" {
		hex = defaultHex
	}

	bits, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		// more than 32 significant bits
		return DefaultBits
	}
	return uint32(bits)
}

func joinPadded(words []int32) uint32 {
	switch len(words) {
	case 0:
		return DefaultBits
	case 1:
		return uint32(uint16(words[0]))
	}
	return uint32(uint16(words[0]))<<16 | uint32(uint16(words[1]))
}
