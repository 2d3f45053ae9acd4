package core

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	BinarySampleSize   = 8192 // Bytes to sample for text/binary detection
	BinaryThresholdPct = 10   // Max % non-printable chars for text values
)

// MappingDiff lists the keys that differ between two mappings. All slices
// are sorted.
type MappingDiff struct {
	Added   []string // Only in the second mapping
	Removed []string // Only in the first mapping
	Changed []string // In both, with different values
}

// Empty reports whether the two mappings were equal
func (d MappingDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// CompareMappings compares a (old) against b (new)
func CompareMappings(a, b map[string][]byte) MappingDiff {
	var d MappingDiff
	for k, av := range a {
		bv, ok := b[k]
		switch {
		case !ok:
			d.Removed = append(d.Removed, k)
		case !bytes.Equal(av, bv):
			d.Changed = append(d.Changed, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			d.Added = append(d.Added, k)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

// IsText determines if a value is likely text.
//
// Detection heuristic (in order):
//  1. Null bytes present → binary
//  2. Invalid UTF-8 → binary
//  3. >10% non-printable control chars → binary
func IsText(data []byte) bool {
	if len(data) == 0 {
		return true
	}

	if bytes.IndexByte(data, 0) != -1 {
		return false
	}

	sample := data
	if len(sample) > BinarySampleSize {
		sample = trimPartialRune(sample[:BinarySampleSize])
	}

	if !utf8.Valid(sample) {
		return false
	}

	nonPrintable := 0
	for _, b := range sample {
		// Allow tab, newline and carriage return
		if b < 32 && b != 9 && b != 10 && b != 13 {
			nonPrintable++
		}
		if b == 127 {
			nonPrintable++
		}
	}

	threshold := len(sample) * BinaryThresholdPct / 100
	return nonPrintable <= threshold
}

// trimPartialRune drops a multi-byte rune cut off at the end of b
func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}

// ValueDiff renders the difference between two values of key as a
// line-based patch. Binary values only get a one-line notice. Equal values
// produce an empty string.
func ValueDiff(key string, oldValue, newValue []byte) string {
	if bytes.Equal(oldValue, newValue) {
		return ""
	}

	if !IsText(oldValue) || !IsText(newValue) {
		return fmt.Sprintf("Binary value %s has changed\n", key)
	}

	dmp := diffmatchpatch.New()

	oldStr, newStr := string(oldValue), string(newValue)
	a, b, lineArray := dmp.DiffLinesToChars(oldStr, newStr)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	patches := dmp.PatchMake(oldStr, diffs)
	if len(patches) == 0 {
		return ""
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("--- a/%s\n", key))
	result.WriteString(fmt.Sprintf("+++ b/%s\n", key))
	result.WriteString(dmp.PatchToText(patches))
	return result.String()
}
