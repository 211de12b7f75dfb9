package main

import (
	"encoding/json"
	"errors"
	"os"
	"testing"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	w.Close()

	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	return string(buf[:n])
}

func TestEmitSuccessJSON(t *testing.T) {
	var code int
	out := captureStdout(t, func() {
		code = emit(true, nil, map[string]string{"status": "ok"}, nil)
	})
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d", code, exitOK)
	}
	var env jsonEnvelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if !env.Success {
		t.Fatalf("envelope.Success = false, want true")
	}
}

func TestEmitNotInitializedJSON(t *testing.T) {
	var code int
	out := captureStdout(t, func() {
		code = emit(true, nil, nil, errNotInitialized("/tmp/proj"))
	})
	if code != exitNotInitialized {
		t.Fatalf("exit code = %d, want %d", code, exitNotInitialized)
	}
	var env jsonEnvelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if env.Success {
		t.Fatal("envelope.Success = true, want false")
	}
	if env.Error == nil || env.Error.Code != "NOT_INITIALIZED" {
		t.Fatalf("envelope.Error = %+v, want code NOT_INITIALIZED", env.Error)
	}
}

func TestEmitResourceLockedExitCode(t *testing.T) {
	code := emit(false, nil, nil, errResourceLocked("already running"))
	if code != exitResourceLocked {
		t.Fatalf("exit code = %d, want %d", code, exitResourceLocked)
	}
}

func TestEmitWrapsGenericErrorAsGeneralError(t *testing.T) {
	code := emit(false, nil, nil, errors.New("boom"))
	if code != exitGeneralError {
		t.Fatalf("exit code = %d, want %d", code, exitGeneralError)
	}
}

func TestEmitHumanFormatCalledOnSuccess(t *testing.T) {
	called := false
	code := emit(false, func(interface{}) { called = true }, "data", nil)
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d", code, exitOK)
	}
	if !called {
		t.Fatal("human formatter was not called on success")
	}
}
