// Package fingerprint computes the canonical identity of a product's
// resource composition, independent of the order lines were authored in.
package fingerprint

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Line is one (resource, quantity, required) tuple of a composition.
type Line struct {
	ResourceID   string `json:"resource_id"`
	Quantity     int    `json:"quantity"`
	RequiredFlag bool   `json:"required_flag"`
}

// BuildHash renders the lines sorted by resource id as
// "rid:qty:flag|rid:qty:flag" and appends "::" plus the hex of the absolute
// 32-bit rolling hash h = h*31 + c over the UTF-16 code units of that text.
func BuildHash(lines []Line) string {
	sorted := append([]Line(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ResourceID < sorted[j].ResourceID })

	parts := make([]string, len(sorted))
	for i, l := range sorted {
		flag := "0"
		if l.RequiredFlag {
			flag = "1"
		}
		parts[i] = l.ResourceID + ":" + strconv.Itoa(l.Quantity) + ":" + flag
	}
	base := strings.Join(parts, "|")

	var h int32
	for _, c := range utf16.Encode([]rune(base)) {
		h = h*31 + int32(c)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return base + "::" + strconv.FormatInt(abs, 16)
}
