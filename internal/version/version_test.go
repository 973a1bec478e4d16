package version

import "testing"

func TestStringReflectsBuildVersion(t *testing.T) {
	cleanup := ForTesting("1.2.3-test")
	t.Cleanup(cleanup)

	if got := String(); got != "1.2.3-test" {
		t.Fatalf("expected version 1.2.3-test, got %s", got)
	}
}

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"dev", "dev"},
		{"0.3.0", "v0.3.0"},
		{"v0.3.0", "v0.3.0"},
	}
	for _, tc := range tests {
		if got := FormatVersion(tc.in); got != tc.want {
			t.Errorf("FormatVersion(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUserAgent(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"dev", "nexus-cli/dev"},
		{"v0.4.1", "nexus-cli/0.4.1"},
		{"0.4.1-5-gabc123", "nexus-cli/0.4.1"},
		{"", "nexus-cli/dev"},
	}
	for _, tc := range tests {
		t.Run(tc.version, func(t *testing.T) {
			t.Cleanup(ForTesting(tc.version))
			if got := UserAgent(); got != tc.want {
				t.Fatalf("UserAgent() = %q, want %q", got, tc.want)
			}
		})
	}
}
