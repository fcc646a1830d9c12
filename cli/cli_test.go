package cli

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestDispatch(t *testing.T) {
	s := New()
	var got []string
	err := s.Register("dvmrp", func(argv []string, out io.Writer) {
		got = argv
		fmt.Fprintln(out, "ok")
	})
	if err != nil {
		t.Fatalf("Expected no error but got %v", err)
	}

	var out bytes.Buffer
	if err := s.Dispatch("dvmrp show", &out); err != nil {
		t.Fatalf("Expected no error but got %v", err)
	}
	if len(got) != 2 || got[0] != "dvmrp" || got[1] != "show" {
		t.Errorf("Expected argv [dvmrp show] but got %v", got)
	}
	if out.String() != "ok\n" {
		t.Errorf("Expected command output but got %q", out.String())
	}
}

func TestDispatchUnknown(t *testing.T) {
	s := New()
	if err := s.Dispatch("nope", io.Discard); err == nil {
		t.Errorf("Expected an error for an unknown command but got none")
	}
}

func TestDispatchEmptyLine(t *testing.T) {
	s := New()
	if err := s.Dispatch("   ", io.Discard); err != nil {
		t.Errorf("Expected an empty line to be a no-op but got %v", err)
	}
}

func TestRegisterTwice(t *testing.T) {
	s := New()
	h := func(argv []string, out io.Writer) {}
	if err := s.Register("mcast", h); err != nil {
		t.Fatalf("Expected no error but got %v", err)
	}
	if err := s.Register("mcast", h); err == nil {
		t.Errorf("Expected an error registering twice but got none")
	}
}

func TestRun(t *testing.T) {
	s := New()
	count := 0
	s.Register("mcast", func(argv []string, out io.Writer) { count++ })

	in := strings.NewReader("mcast\nmcast\nexit\nmcast\n")
	var out bytes.Buffer
	s.Run(in, &out)
	if count != 2 {
		t.Errorf("Expected 2 invocations before exit but got %d", count)
	}
}

func TestQuotedArgs(t *testing.T) {
	s := New()
	var got []string
	s.Register("echo", func(argv []string, out io.Writer) { got = argv })
	if err := s.Dispatch(`echo "two words"`, io.Discard); err != nil {
		t.Fatalf("Expected no error but got %v", err)
	}
	if len(got) != 2 || got[1] != "two words" {
		t.Errorf("Expected quoted tokenizing but got %v", got)
	}
}
