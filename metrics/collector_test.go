package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("websocket", ":8080")

	c.IncSessionOpened()
	c.IncSessionClosed()
	c.IncDisconnect()
	c.IncCallStarted()
	c.IncCallStarted()
	c.IncCallCompleted()
	c.IncCallCanceled()
	c.IncLateReply()
	c.IncRemoteError()
	c.IncCommandFailure()
	c.IncTypeMismatch()
	c.IncDecodeError()
	c.IncHandleAcquired()
	c.IncHandleReleased()
	c.RecordCompile("complete")
	c.RecordCompile("complete")
	c.RecordCompile("awaiting_more")
	c.IncScriptStarted()
	c.IncScriptCompleted()
	c.IncScriptFailed()

	s := c.Snapshot()

	if s.SessionsOpened != 1 || s.SessionsClosed != 1 || s.Disconnects != 1 {
		t.Errorf("session counters = %d/%d/%d, want 1/1/1", s.SessionsOpened, s.SessionsClosed, s.Disconnects)
	}
	if s.CallsStarted != 2 {
		t.Errorf("CallsStarted = %d, want 2", s.CallsStarted)
	}
	if s.CallsCompleted != 1 || s.CallsCanceled != 1 || s.LateReplies != 1 {
		t.Errorf("call counters = %+v", s)
	}
	if s.RemoteErrors != 1 || s.CommandFailures != 1 || s.TypeMismatches != 1 || s.DecodeErrors != 1 {
		t.Errorf("error counters = %+v", s)
	}
	if s.HandlesAcquired != 1 || s.HandlesReleased != 1 {
		t.Errorf("handle counters = %d/%d", s.HandlesAcquired, s.HandlesReleased)
	}
	if s.Compiles["complete"] != 2 || s.Compiles["awaiting_more"] != 1 {
		t.Errorf("Compiles = %v", s.Compiles)
	}
	if s.ScriptsStarted != 1 || s.ScriptsCompleted != 1 || s.ScriptsFailed != 1 {
		t.Errorf("script counters = %+v", s)
	}
	if s.Transport != "websocket" || s.Listen != ":8080" {
		t.Errorf("dimensions = %q/%q", s.Transport, s.Listen)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.IncSessionOpened()
	c.IncCallStarted()
	c.RecordCompile("invalid")
	c.IncHandleReleased()

	s := c.Snapshot()
	if s.CallsStarted != 0 {
		t.Errorf("nil collector snapshot = %+v", s)
	}
	if s.Compiles == nil {
		t.Error("nil collector snapshot should have a non-nil Compiles map")
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("stream", "")
	c.RecordCompile("complete")

	s := c.Snapshot()
	c.RecordCompile("complete")
	s.Compiles["complete"] = 99

	if got := c.Snapshot().Compiles["complete"]; got != 2 {
		t.Errorf("collector Compiles = %d, want 2", got)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector("stream", "")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncCallStarted()
			c.IncCallCompleted()
			c.RecordCompile("complete")
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.CallsStarted != 50 || s.CallsCompleted != 50 || s.Compiles["complete"] != 50 {
		t.Errorf("snapshot = %+v", s)
	}
}
