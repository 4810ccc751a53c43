package util

import "testing"

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:5000", want: "http://localhost:5000"},
		{in: "http://localhost:5000/", want: "http://localhost:5000"},
		{in: "localhost:5000", want: "http://localhost:5000"},
		{in: "  HTTPS://demucs.example.com/base/ ", want: "https://demucs.example.com/base"},
		{in: "http://host:5000/?q=1#x", want: "http://host:5000"},
		{in: "ftp://host", wantErr: true},
		{in: "", wantErr: true},
		{in: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeBaseURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeBaseURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJobEndpoint(t *testing.T) {
	tests := []struct {
		base, template, job string
		want                string
	}{
		{"http://h:5000", "/mcp/stream/{job}", "abc", "http://h:5000/mcp/stream/abc"},
		{"http://h:5000/", "/api/progress/{job}", "abc", "http://h:5000/api/progress/abc"},
		{"http://h:5000", "/mcp/progress", "abc", "http://h:5000/mcp/progress/abc"},
		{"http://h:5000", "mcp/progress/", "abc", "http://h:5000/mcp/progress/abc"},
		{"http://h:5000/base", "/mcp/stream/{job}", "a b/c", "http://h:5000/base/mcp/stream/a%20b%2Fc"},
	}
	for _, tt := range tests {
		if got := JobEndpoint(tt.base, tt.template, tt.job); got != tt.want {
			t.Errorf("JobEndpoint(%q, %q, %q) = %q, want %q", tt.base, tt.template, tt.job, got, tt.want)
		}
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"http://h:5000", "/mcp/stream/x", "http://h:5000/mcp/stream/x"},
		{"http://h:5000/base", "/mcp/stream/x", "http://h:5000/base/mcp/stream/x"},
		{"http://h:5000", "https://other/mcp/stream/x", "https://other/mcp/stream/x"},
	}
	for _, tt := range tests {
		got, err := ResolveURL(tt.base, tt.ref)
		if err != nil {
			t.Fatalf("ResolveURL(%q, %q) error: %v", tt.base, tt.ref, err)
		}
		if got != tt.want {
			t.Errorf("ResolveURL(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
		}
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://h:5000/mcp/ws/x", want: "ws://h:5000/mcp/ws/x"},
		{in: "https://h/mcp/ws/x", want: "wss://h/mcp/ws/x"},
		{in: "ws://h/x", want: "ws://h/x"},
		{in: "ftp://h/x", wantErr: true},
	}
	for _, tt := range tests {
		got, err := WebSocketURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("WebSocketURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("WebSocketURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
