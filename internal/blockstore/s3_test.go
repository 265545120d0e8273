package blockstore

import "testing"

func TestResolveEndpoint(t *testing.T) {
	cases := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"localhost:9000", false, "http://localhost:9000"},
		{"localhost:9000", true, "https://localhost:9000"},
		{"http://localhost:9000", true, "http://localhost:9000"},
		{"https://minio.internal", false, "https://minio.internal"},
		{"", true, ""},
	}
	for _, c := range cases {
		if got := resolveEndpoint(c.endpoint, c.useSSL); got != c.want {
			t.Errorf("resolveEndpoint(%q, %v) = %q, want %q", c.endpoint, c.useSSL, got, c.want)
		}
	}
}
