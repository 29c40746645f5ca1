package main

import "testing"

func TestListenerURL(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		address string
		tls     bool
		want    string
		ws      string
	}{
		"default_port_only":    {address: ":8000", want: "http://localhost:8000", ws: "ws://localhost:8000/ws"},
		"explicit_localhost":   {address: "localhost:8000", want: "http://localhost:8000", ws: "ws://localhost:8000/ws"},
		"explicit_ipv4_any":    {address: "0.0.0.0:9000", want: "http://localhost:9000", ws: "ws://localhost:9000/ws"},
		"explicit_ipv4_local":  {address: "127.0.0.1:8000", want: "http://127.0.0.1:8000", ws: "ws://127.0.0.1:8000/ws"},
		"explicit_ipv6_any":    {address: "[::]:8000", want: "http://localhost:8000", ws: "ws://localhost:8000/ws"},
		"explicit_ipv6_custom": {address: "[2001:db8::1]:8000", want: "http://[2001:db8::1]:8000", ws: "ws://[2001:db8::1]:8000/ws"},
		"tls_enabled":          {address: ":8443", tls: true, want: "https://localhost:8443", ws: "wss://localhost:8443/ws"},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := listenerURL(tc.address, tc.tls); got != tc.want {
				t.Fatalf("listenerURL(%q, %t) = %q, want %q", tc.address, tc.tls, got, tc.want)
			}
			if got := websocketURL(tc.address, tc.tls); got != tc.ws {
				t.Fatalf("websocketURL(%q, %t) = %q, want %q", tc.address, tc.tls, got, tc.ws)
			}
		})
	}
}

func TestNormaliseHostPortNoPort(t *testing.T) {
	t.Parallel()

	if got := normaliseHostPort(""); got != "localhost" {
		t.Fatalf("expected localhost for empty address, got %q", got)
	}
	if got := normaliseHostPort("arena.example"); got != "arena.example" {
		t.Fatalf("expected bare host to pass through, got %q", got)
	}
}
