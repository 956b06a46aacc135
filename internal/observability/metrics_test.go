package observability

import "testing"

func TestSessionMetrics_InputLevel(t *testing.T) {
	m := NewSessionMetrics("session-1")

	m.RecordInputLevel(0)
	m.RecordInputLevel(SilenceThreshold / 2)
	m.RecordInputLevel(SilenceThreshold)
	m.RecordInputLevel(0.4)

	total, silent := m.InputFrames()
	if total != 4 {
		t.Errorf("Expected 4 frames, got %d", total)
	}
	if silent != 2 {
		t.Errorf("Expected 2 silent frames, got %d", silent)
	}
}

func TestSessionMetrics_EndOnce(t *testing.T) {
	m := NewSessionMetrics("session-2")

	// ending before start is ignored
	m.RecordSessionEnd("ended")
	if m.ended {
		t.Error("Expected end before start to be ignored")
	}

	m.RecordSessionStart()
	m.RecordSessionEnd("error")
	m.RecordSessionEnd("ended")
	if !m.started || !m.ended {
		t.Errorf("Expected started and ended, got started=%v ended=%v", m.started, m.ended)
	}
}
