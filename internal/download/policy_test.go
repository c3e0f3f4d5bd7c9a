package download

import (
	"errors"
	"testing"
)

func TestCheckURL(t *testing.T) {
	tests := []struct {
		url     string
		blocked bool
	}{
		{"https://cdn.example.com/a.jpg", false},
		{"http://8.8.8.8/a.jpg", false},
		{"https://172.32.0.1/a.jpg", false},
		{"https://[2001:db8::1]/a.jpg", false},
		{"ftp://cdn.example.com/a.jpg", true},
		{"file:///etc/passwd", true},
		{"http://localhost/a.jpg", true},
		{"http://LOCALHOST./a.jpg", true},
		{"http://127.0.0.1:8080/a.jpg", true},
		{"http://[::1]/a.jpg", true},
		{"http://0.0.0.0/a.jpg", true},
		{"http://169.254.169.254/latest/meta-data", true},
		{"http://169.254.10.10/a.jpg", true},
		{"http://10.1.2.3/a.jpg", true},
		{"http://172.16.0.1/a.jpg", true},
		{"http://172.31.255.255/a.jpg", true},
		{"http://192.168.1.1/a.jpg", true},
		{"http://[::ffff:10.0.0.1]/a.jpg", true},
		{"http:///a.jpg", true},
	}
	for _, tt := range tests {
		err := CheckURL(tt.url)
		if tt.blocked && !errors.Is(err, ErrBlockedURL) {
			t.Errorf("CheckURL(%q) = %v, ожидается ErrBlockedURL", tt.url, err)
		}
		if !tt.blocked && err != nil {
			t.Errorf("CheckURL(%q) = %v, ожидается nil", tt.url, err)
		}
	}
}
