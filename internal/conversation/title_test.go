package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		name    string
		count   int
		content string
		want    string
		wantOk  bool
	}{
		{"short", 0, "Hello", "Hello", true},
		{"exactly thirty", 0, strings.Repeat("a", 30), strings.Repeat("a", 30), true},
		{"long", 0, "Plan a three day trip to Kyoto in autumn", "Plan a three day trip to Kyoto...", true},
		{"multibyte", 0, strings.Repeat("日", 31), strings.Repeat("日", 30) + "...", true},
		{"not first", 2, "Hello", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DeriveTitle(tc.count, tc.content)
			assert.Equal(t, tc.wantOk, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
