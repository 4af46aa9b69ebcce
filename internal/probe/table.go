// Package probe implements the probe lifecycle interface (PL): a fixed-size
// index→MetaOp table that mirrors a BPF_MAP_TYPE_ARRAY map, plus the state
// machine governing its creation, population, and teardown.
//
// Attaching the in-kernel interpreter program itself is out of scope (it is
// an out-of-scope collaborator); Attach only marks the table read-mostly and
// ineligible for further population, matching the single-owner discipline
// the table is built around.
package probe

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/skbtrace/skbtrace/internal/filter"
)

// State is one stage of a Table's lifecycle.
type State int

const (
	NotInitialized State = iota
	TableCreated
	Populated
	Attached
	Detached
)

func (s State) String() string {
	switch s {
	case NotInitialized:
		return "not-initialized"
	case TableCreated:
		return "table-created"
	case Populated:
		return "populated"
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

// Table is a fixed-capacity, index-keyed table of compiled filter ops, built
// on the platform's native mechanism for exposing a kernel-readable array
// (a BPF_MAP_TYPE_ARRAY map on Linux). It is not safe for concurrent use by
// multiple owners: the lifecycle is create → populate → attach → detach, by
// a single goroutine.
type Table struct {
	mu    sync.Mutex
	state State
	impl  tableImpl
}

// tableImpl is the platform-specific backing store. table_linux.go provides
// a real BPF_MAP_TYPE_ARRAY implementation; table_other.go provides none, and
// its NewTable returns ErrUnsupported.
type tableImpl interface {
	create() error
	update(index uint32, value []byte) error
	close() error
}

// State returns the table's current lifecycle state.
func (t *Table) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Populate compiles prog into the table's entries, in order, starting at
// index 0. It may be called only once, from TableCreated. Populate
// re-validates the ≤ filter.MaxOps invariant at runtime even though Compile
// already enforces it at compile time, guarding against a caller that builds
// a Program by hand.
func (t *Table) Populate(prog filter.Program) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TableCreated {
		return fmt.Errorf("probe: Populate requires state %s, have %s", TableCreated, t.state)
	}
	if len(prog) > filter.MaxOps {
		return fmt.Errorf("probe: program has %d ops, exceeds table capacity %d", len(prog), filter.MaxOps)
	}

	for i, op := range prog {
		value, err := op.MarshalBinary()
		if err != nil {
			slog.Error("probe: marshaling op failed", slog.Int("index", i), slog.Any("error", err))
			return fmt.Errorf("probe: marshaling op %d: %w", i, err)
		}
		if err := t.impl.update(uint32(i), value); err != nil {
			slog.Error("probe: populating entry failed", slog.Int("index", i), slog.Any("error", err))
			return fmt.Errorf("probe: populating entry %d: %w", i, err)
		}
	}

	t.state = Populated
	slog.Info("probe: table populated", slog.Int("ops", len(prog)))
	return nil
}

// Attach marks the table read-mostly: the in-kernel interpreter is assumed
// to be the sole reader from this point on. It requires Populated.
func (t *Table) Attach() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Populated {
		return fmt.Errorf("probe: Attach requires state %s, have %s", Populated, t.state)
	}
	t.state = Attached
	slog.Info("probe: table attached")
	return nil
}

// Detach releases the table's resources. It is idempotent: calling Detach
// from any state (including Detached itself) transitions directly to
// Detached and releases resources at most once.
func (t *Table) Detach() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Detached {
		return nil
	}
	prior := t.state
	t.state = Detached
	if prior == NotInitialized || t.impl == nil {
		return nil
	}
	if err := t.impl.close(); err != nil {
		slog.Error("probe: detach failed to release resources", slog.String("prior_state", prior.String()), slog.Any("error", err))
		return fmt.Errorf("probe: detaching table: %w", err)
	}
	slog.Info("probe: table detached", slog.String("prior_state", prior.String()))
	return nil
}
