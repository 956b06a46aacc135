package live

// transcript accumulates turns for one session. Each speaker has at most one
// open turn. A fragment from the other speaker finalizes it, so turns stay in
// arrival order.
type transcript struct {
	turns []Turn
	open  map[Role]int // index into turns
}

func newTranscript() *transcript {
	return &transcript{open: make(map[Role]int)}
}

func (t *transcript) reset() {
	t.turns = nil
	t.open = make(map[Role]int)
}

// appendFragment adds text to the speaker's open turn, opening one if needed
func (t *transcript) appendFragment(speaker Role, text string) {
	if text == "" {
		return
	}
	if n := len(t.turns); n > 0 && t.turns[n-1].Speaker != speaker {
		t.finalize(t.turns[n-1].Speaker)
	}
	if idx, ok := t.open[speaker]; ok {
		t.turns[idx].Text += text
		return
	}
	t.turns = append(t.turns, Turn{Speaker: speaker, Text: text})
	t.open[speaker] = len(t.turns) - 1
}

// finalize closes the speaker's open turn, if any
func (t *transcript) finalize(speaker Role) bool {
	idx, ok := t.open[speaker]
	if !ok {
		return false
	}
	t.turns[idx].IsFinal = true
	delete(t.open, speaker)
	return true
}

// completeTurn closes every open turn. The remote side signals turn
// completion after its reply, at which point the user's turn is over too.
func (t *transcript) completeTurn() bool {
	changed := false
	for _, speaker := range []Role{RoleUser, RoleModel} {
		if t.finalize(speaker) {
			changed = true
		}
	}
	return changed
}

func (t *transcript) snapshot() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}
