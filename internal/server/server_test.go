package server

import "testing"

func TestShouldSkipJWT(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/webhooks/evolution", want: true},
		{path: "/webhooks/meta", want: true},
		{path: "/auth/login", want: true},
		{path: "/ping", want: true},
		{path: "/metrics", want: true},
		{path: "/ws", want: true},
		{path: "/api/conversations/queue", want: false},
		{path: "/api/operators/me", want: false},
		{path: "/api/webhooks/evolution", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipJWT(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}
