package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterText(t *testing.T) {
	f := NewFilter(DefaultConfig())

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "phone", input: "call me at 415-555-0132 tonight", want: "call me at 41*-***-**32 tonight"},
		{name: "ssn", input: "SSN 123-45-6789", want: "SSN 12*-**-**89"},
		{name: "email", input: "mail jane.doe@example.com", want: "mail ja******@*******.com"},
		{name: "card", input: "card 4111 1111 1111 1111", want: "card 41** **** **** **11"},
		{name: "ip", input: "from 192.168.1.20", want: "from 19*.***.*.20"},
		{name: "clean", input: "I have a headache since 3 days", want: "I have a headache since 3 days"},
		{name: "vitals untouched", input: "blood pressure 140/90, glucose 110", want: "blood pressure 140/90, glucose 110"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.FilterText(tt.input))
		})
	}
}

func TestFilterEnabledTypes(t *testing.T) {
	f := NewFilter(FilterConfig{Enabled: []FilterType{Email}, KeepFirstN: 1})
	assert.Equal(t, "415-555-0132 a**@*******.org", f.FilterText("415-555-0132 ann@example.org"))
	assert.True(t, f.ContainsSensitive("ann@example.org"))
	assert.False(t, f.ContainsSensitive("415-555-0132"))
}

func TestFindMatchesNoOverlap(t *testing.T) {
	f := DefaultFilter()
	matches := f.FindMatches("ssn 123-45-6789 and 415.555.0132")
	if assert.Len(t, matches, 2) {
		assert.Equal(t, SSN, matches[0].Type)
		assert.Equal(t, Phone, matches[1].Type)
		assert.Less(t, matches[0].End, matches[1].Start)
	}
}

func TestTotalMatches(t *testing.T) {
	f := NewFilter(DefaultConfig())
	f.FilterText("a@b.io and c@d.io")
	assert.Equal(t, int64(2), f.TotalMatches())
}
