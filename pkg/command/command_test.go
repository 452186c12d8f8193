package command

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		header string
		want   Command
	}{
		{"service-call", ServiceCall},
		{"HEALTH", Unknown}, // wire values are lower-kebab-case; case matters
		{"health", Health},
		{"", Unknown},
		{"bogus-command", Unknown},
		{"registry-pull", RegistryPull},
	}
	for _, tc := range cases {
		if got := Parse(tc.header); got != tc.want {
			t.Errorf("Parse(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestIsProtected(t *testing.T) {
	protectedCmds := []Command{
		ServiceSetup, ServiceRegister, ServiceUnregister,
		RouteRegister, PubsubPublish, PubsubSubscribe,
		PubsubUnsubscribe, RegistryPull,
	}
	for _, c := range protectedCmds {
		if !IsProtected(c) {
			t.Errorf("IsProtected(%q) = false, want true", c)
		}
	}

	publicCmds := []Command{Health, ServiceLookup, ServiceCall, AuthLogin, AuthRefresh, Unknown}
	for _, c := range publicCmds {
		if IsProtected(c) {
			t.Errorf("IsProtected(%q) = true, want false", c)
		}
	}
}
