package main

import "testing"

func TestHealthURLFor(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want string
	}{
		{name: "host port", addr: "127.0.0.1:18990", want: "http://127.0.0.1:18990/healthz"},
		{name: "empty uses default", addr: "", want: "http://127.0.0.1:18990/healthz"},
		{name: "full url", addr: "http://hive.local:8080", want: "http://hive.local:8080/healthz"},
		{name: "url trailing slash", addr: "https://hive.local/", want: "https://hive.local/healthz"},
		{name: "whitespace trimmed", addr: "  127.0.0.1:9000  ", want: "http://127.0.0.1:9000/healthz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := healthURLFor(tt.addr); got != tt.want {
				t.Fatalf("healthURLFor(%q) = %q, want %q", tt.addr, got, tt.want)
			}
		})
	}
}

func TestBaseURLFor(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want string
	}{
		{name: "host port", addr: "0.0.0.0:18990", want: "http://0.0.0.0:18990"},
		{name: "empty uses default", addr: "", want: "http://127.0.0.1:18990"},
		{name: "full url kept", addr: "http://hive.local:8080", want: "http://hive.local:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := baseURLFor(tt.addr); got != tt.want {
				t.Fatalf("baseURLFor(%q) = %q, want %q", tt.addr, got, tt.want)
			}
		})
	}
}
