package probe

import (
	"errors"
	"testing"

	"github.com/skbtrace/skbtrace/internal/filter"
)

// fakeImpl is an in-memory tableImpl stand-in so the state machine and
// population logic can be tested without a real kernel BPF map.
type fakeImpl struct {
	entries   map[uint32][]byte
	closed    bool
	updateErr error
	closeErr  error
}

func newFakeImpl() *fakeImpl {
	return &fakeImpl{entries: make(map[uint32][]byte)}
}

func (f *fakeImpl) create() error { return nil }

func (f *fakeImpl) update(index uint32, value []byte) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	f.entries[index] = cp
	return nil
}

func (f *fakeImpl) close() error {
	f.closed = true
	return f.closeErr
}

func newTestTable() (*Table, *fakeImpl) {
	impl := newFakeImpl()
	return &Table{state: TableCreated, impl: impl}, impl
}

func testProgram(n int) filter.Program {
	prog := make(filter.Program, 0, n)
	prog = append(prog, filter.Op{IsTarget: true, Size: 4, Cmp: filter.CmpEq})
	for i := 1; i < n; i++ {
		prog = append(prog, filter.Op{Kind: 3, Offset: uint16(i * 4)})
	}
	return prog
}

func TestPopulateRequiresTableCreated(t *testing.T) {
	tbl, _ := newTestTable()
	tbl.state = NotInitialized
	if err := tbl.Populate(testProgram(1)); err == nil {
		t.Fatal("expected error populating before TableCreated")
	}
}

func TestPopulateWritesEveryOpInOrder(t *testing.T) {
	tbl, impl := newTestTable()
	prog := testProgram(3)

	if err := tbl.Populate(prog); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if tbl.State() != Populated {
		t.Fatalf("state = %s, want %s", tbl.State(), Populated)
	}
	if len(impl.entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(impl.entries))
	}
	for i, op := range prog {
		want, err := op.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary: %v", err)
		}
		got, ok := impl.entries[uint32(i)]
		if !ok {
			t.Fatalf("missing entry %d", i)
		}
		if string(got) != string(want) {
			t.Errorf("entry %d = %v, want %v", i, got, want)
		}
	}
}

func TestPopulateRejectsOverlongProgram(t *testing.T) {
	tbl, _ := newTestTable()
	if err := tbl.Populate(testProgram(filter.MaxOps + 1)); err == nil {
		t.Fatal("expected error for program exceeding MaxOps")
	}
	if tbl.State() != TableCreated {
		t.Fatalf("state changed on rejected Populate: %s", tbl.State())
	}
}

func TestPopulatePropagatesUpdateError(t *testing.T) {
	tbl, impl := newTestTable()
	impl.updateErr = errors.New("boom")
	if err := tbl.Populate(testProgram(1)); err == nil {
		t.Fatal("expected error from failing update")
	}
}

func TestAttachRequiresPopulated(t *testing.T) {
	tbl, _ := newTestTable()
	if err := tbl.Attach(); err == nil {
		t.Fatal("expected error attaching before Populated")
	}

	if err := tbl.Populate(testProgram(1)); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if err := tbl.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if tbl.State() != Attached {
		t.Fatalf("state = %s, want %s", tbl.State(), Attached)
	}
}

func TestDetachIsIdempotentAndReleasesResources(t *testing.T) {
	tbl, impl := newTestTable()
	if err := tbl.Populate(testProgram(1)); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if err := tbl.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := tbl.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if tbl.State() != Detached {
		t.Fatalf("state = %s, want %s", tbl.State(), Detached)
	}
	if !impl.closed {
		t.Error("expected impl.close to have been called")
	}

	// Idempotent: calling again must not re-close or error.
	impl.closed = false
	if err := tbl.Detach(); err != nil {
		t.Fatalf("second Detach: %v", err)
	}
	if impl.closed {
		t.Error("second Detach should not re-invoke close")
	}
}

func TestDetachFromNotInitializedNeverCallsClose(t *testing.T) {
	tbl := &Table{}
	if err := tbl.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if tbl.State() != Detached {
		t.Fatalf("state = %s, want %s", tbl.State(), Detached)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		NotInitialized: "not-initialized",
		TableCreated:   "table-created",
		Populated:      "populated",
		Attached:       "attached",
		Detached:       "detached",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
