package iobroker

import (
	"strings"
	"testing"

	"github.com/skillbox/skillbox/internal/sandbox"
)

func TestBuildStdin_MarshalsRequest(t *testing.T) {
	payload, err := BuildStdin(map[string]any{"skill": "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(payload), `"skill":"hello"`) {
		t.Fatalf("payload = %s", payload)
	}
}

func TestDecode_ParsesJSONValueVerbatim(t *testing.T) {
	result := sandbox.Result{
		State:  sandbox.StateExited,
		Stdout: []byte(`{"greeting": "hi"}`),
	}
	got := Decode(result)
	m, ok := got.Output.(map[string]any)
	if !ok {
		t.Fatalf("output = %#v, want map", got.Output)
	}
	if m["greeting"] != "hi" {
		t.Fatalf("greeting = %v", m["greeting"])
	}
	if got.ErrorKind != ErrorNone {
		t.Fatalf("error kind = %v, want none", got.ErrorKind)
	}
}

func TestDecode_ScalarJSONOutputPassesThrough(t *testing.T) {
	result := sandbox.Result{State: sandbox.StateExited, Stdout: []byte(`42`)}
	got := Decode(result)
	if n, ok := got.Output.(float64); !ok || n != 42 {
		t.Fatalf("output = %#v, want 42", got.Output)
	}
}

func TestDecode_WrapsNonJSONAsRaw(t *testing.T) {
	result := sandbox.Result{State: sandbox.StateExited, Stdout: []byte("plain text")}
	got := Decode(result)
	m, ok := got.Output.(map[string]any)
	if !ok || m["raw"] != "plain text" {
		t.Fatalf("output = %#v", got.Output)
	}
}

func TestDecode_TruncatesOversizedStdout(t *testing.T) {
	big := make([]byte, MaxStdoutBytes+100)
	for i := range big {
		big[i] = 'a'
	}
	result := sandbox.Result{State: sandbox.StateExited, Stdout: big}
	got := Decode(result)
	if !got.StdoutTruncated {
		t.Fatalf("expected stdout truncation flag set")
	}
	if got.ErrorKind != ErrorResourceLimit {
		t.Fatalf("error kind = %v, want ResourceLimit", got.ErrorKind)
	}
}

func TestDecode_NonZeroExitWithoutOtherErrorKind(t *testing.T) {
	result := sandbox.Result{State: sandbox.StateExited, ExitCode: 2, Stdout: []byte(`{}`)}
	got := Decode(result)
	if got.ErrorKind != ErrorNonZeroExit {
		t.Fatalf("error kind = %v, want NonZeroExit", got.ErrorKind)
	}
}

func TestDecode_TimedOutMapsToTimeoutKind(t *testing.T) {
	result := sandbox.Result{State: sandbox.StateTimedOut}
	got := Decode(result)
	if got.ErrorKind != ErrorTimeout {
		t.Fatalf("error kind = %v, want Timeout", got.ErrorKind)
	}
}
