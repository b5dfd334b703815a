package fingerprint

import (
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildHashPermutationInvariant(t *testing.T) {
	a := BuildHash([]Line{{"r1", 2, true}, {"r2", 1, false}})
	b := BuildHash([]Line{{"r2", 1, false}, {"r1", 2, true}})
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "r1:2:1|r2:1:0::"), a)
}

func TestBuildHashSensitivity(t *testing.T) {
	base := []Line{{"r1", 2, true}, {"r2", 1, false}}
	want := BuildHash(base)

	tests := []struct {
		name  string
		lines []Line
	}{
		{"resource id", []Line{{"r3", 2, true}, {"r2", 1, false}}},
		{"quantity", []Line{{"r1", 3, true}, {"r2", 1, false}}},
		{"required flag", []Line{{"r1", 2, false}, {"r2", 1, false}}},
		{"extra line", []Line{{"r1", 2, true}, {"r2", 1, false}, {"r4", 1, false}}},
		{"missing line", []Line{{"r1", 2, true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, want, BuildHash(tt.lines))
		})
	}
}

func TestBuildHashKnownValues(t *testing.T) {
	// "a:1:1" -> 97,58,49,58,49 under h = h*31 + c.
	var h int64
	for _, c := range "a:1:1" {
		h = h*31 + int64(c)
	}
	assert.Equal(t, "a:1:1::"+strconv.FormatInt(h, 16), BuildHash([]Line{{"a", 1, true}}))

	assert.Equal(t, "::0", BuildHash(nil))
}

func TestBuildHashWrapsTo32Bits(t *testing.T) {
	got := BuildHash([]Line{{"hotel-grand-mercure-deluxe-king", 2, true}, {"transfer-airport-private", 1, true}})
	suffix := got[strings.LastIndex(got, "::")+2:]
	v, err := strconv.ParseInt(suffix, 16, 64)
	assert.NoError(t, err)
	assert.LessOrEqual(t, v, int64(math.MaxInt32)+1)
}

func TestBuildHashDoesNotReorderInput(t *testing.T) {
	in := []Line{{"b", 1, false}, {"a", 1, false}}
	BuildHash(in)
	assert.Equal(t, "b", in[0].ResourceID)
}
