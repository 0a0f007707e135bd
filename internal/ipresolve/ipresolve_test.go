package ipresolve

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"
)

func TestRequestResolver(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
		wantErr    bool
	}{
		{name: "ipv4 with port", remoteAddr: "1.2.3.4:5555", want: "1.2.3.4"},
		{name: "ipv4 without port", remoteAddr: "1.2.3.4", want: "1.2.3.4"},
		{name: "ipv6 with port", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "ipv4-mapped", remoteAddr: "[::ffff:1.2.3.4]:80", want: "1.2.3.4"},
		{name: "garbage", remoteAddr: "not-an-ip", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr

			got, err := RequestResolver{}.Resolve(context.Background(), r)
			if tt.wantErr {
				var lerr *LookupError
				if !errors.As(err, &lerr) {
					t.Fatalf("err = %v, want *LookupError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			if got != netip.MustParseAddr(tt.want) {
				t.Fatalf("Resolve = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEchoResolver_FallsBackToNextService(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>hello</html>"))
	}))
	defer garbage.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("123.45.67.89\n"))
	}))
	defer good.Close()

	res := NewEchoResolver([]string{broken.URL, garbage.URL, good.URL}, time.Second)

	got, err := res.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got != netip.MustParseAddr("123.45.67.89") {
		t.Fatalf("Resolve = %s, want 123.45.67.89", got)
	}
}

func TestEchoResolver_AllFail(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("1.1.1.1"))
	}))
	defer slow.Close()

	res := NewEchoResolver([]string{slow.URL, "http://127.0.0.1:1"}, 50*time.Millisecond)

	got, err := res.Resolve(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected error, got %s", got)
	}

	var lerr *LookupError
	if !errors.As(err, &lerr) {
		t.Fatalf("err = %v, want *LookupError", err)
	}
	if lerr.Source != "echo" {
		t.Fatalf("source = %q, want echo", lerr.Source)
	}
	if got.IsValid() {
		t.Fatalf("address must be invalid on failure, got %s", got)
	}
}
