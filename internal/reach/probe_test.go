package reach

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheck_HealthyServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	res := New(srv.URL).Check(context.Background())
	if !res.Reachable {
		t.Error("Reachable = false for healthy server")
	}
	if !res.OK {
		t.Error("OK = false for 200 response")
	}
	if res.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", res.Status)
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil", res.Err)
	}
}

func TestCheck_ErrorStatusIsStillReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := New(srv.URL).Check(context.Background())
	if !res.Reachable {
		t.Error("Reachable = false — any HTTP response means reachable")
	}
	if res.OK {
		t.Error("OK = true for 500 response")
	}
	if res.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", res.Status)
	}
}

func TestCheck_DownServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := New(url).Check(context.Background())
	if res.Reachable {
		t.Error("Reachable = true for closed server")
	}
	if res.Err == nil {
		t.Error("Err = nil, want transport error")
	}
}

func TestCheck_TimeoutIsUnreachableNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	res := New(srv.URL, WithTimeout(20*time.Millisecond)).Check(context.Background())
	if res.Reachable {
		t.Error("Reachable = true for a server slower than the probe budget")
	}
	if res.Err == nil {
		t.Error("Err = nil, want deadline error")
	}
}
