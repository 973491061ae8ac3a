package textutil

import "testing"

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"family chat", 0, "family-chat"},
		{"  2024.group  ", 0, "2024.group"},
		{"a//b::c", 0, "a-b-c"},
		{"__ü__", 0, ""},
		{"", 0, ""},
		{"abcdef", 3, "abc"},
		{"ab-cdef", 3, "ab"},
	}
	for _, tc := range tests {
		if got := SanitizeToken(tc.in, tc.max); got != tc.want {
			t.Fatalf("SanitizeToken(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
