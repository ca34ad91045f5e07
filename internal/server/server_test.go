package server

import "testing"

func TestShouldSkipJWT(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/ping", want: true},
		{path: "/health", want: true},
		{path: "/auth/login", want: true},
		{path: "/api/status", want: false},
		{path: "/api/accounts", want: false},
		{path: "/auth/login/extra", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipJWT(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}
