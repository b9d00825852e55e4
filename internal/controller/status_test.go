package controller

import (
	"syscall"
	"testing"
)

func TestErrnoLatchLogsOncePerDistinctErrno(t *testing.T) {
	var l errnoLatch
	if !l.shouldLog(syscall.EACCES) {
		t.Fatal("expected first EACCES to log")
	}
	if l.shouldLog(syscall.EACCES) {
		t.Fatal("expected repeated EACCES to be suppressed")
	}
	if !l.shouldLog(syscall.ENODEV) {
		t.Fatal("expected a distinct errno to log")
	}
}

func TestNoopStatusSinkDiscardsCalls(t *testing.T) {
	var s NoopStatusSink
	s.SetStreaming(true)
	s.SetHasClients(true)
}
