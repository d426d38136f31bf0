package dag

import (
	"context"
	"slices"

	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
	"github.com/pachyderm/fsfs/src/internal/storage/kv"
)

// ChangeKind is the kind of change made to a path.
type ChangeKind int

const (
	Modify ChangeKind = iota
	Add
	Delete
	Replace
	// Reset drops any change recorded for the path.
	Reset
)

func (k ChangeKind) String() string {
	switch k {
	case Add:
		return "add"
	case Delete:
		return "delete"
	case Replace:
		return "replace"
	case Reset:
		return "reset"
	default:
		return "modify"
	}
}

// Change records how a transaction changed one path.
type Change struct {
	Path     string     `cbor:"path"`
	NodeID   nodeid.ID  `cbor:"id"`
	Kind     ChangeKind `cbor:"kind"`
	NodeKind Kind       `cbor:"nodeKind"`
	TextMod  bool       `cbor:"text,omitempty"`
	PropMod  bool       `cbor:"props,omitempty"`

	CopyFromRev  nodeid.Revnum `cbor:"cfr"`
	CopyFromPath string        `cbor:"cfp,omitempty"`
}

// AddChange appends a change to the transaction's change log.
func (r *Repo) AddChange(ctx context.Context, txn nodeid.TxnID, c *Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changes []*Change
	if err := r.getRecord(ctx, txnKey(txn, "changes"), &changes); err != nil && !kv.IsNotExist(err) {
		return err
	}
	changes = append(changes, c)
	return r.putRecord(ctx, txnKey(txn, "changes"), changes)
}

// TxnChanges returns the transaction's changes folded to one per path.
func (r *Repo) TxnChanges(ctx context.Context, txn nodeid.TxnID) (map[string]*Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changes []*Change
	if err := r.getRecord(ctx, txnKey(txn, "changes"), &changes); err != nil && !kv.IsNotExist(err) {
		return nil, err
	}
	return FoldChanges(changes)
}

// FoldChanges folds a change log into one change per path.
func FoldChanges(changes []*Change) (map[string]*Change, error) {
	folded := make(map[string]*Change)
	for _, c := range changes {
		if err := foldChange(folded, c); err != nil {
			return nil, err
		}
		if c.Kind == Delete || c.Kind == Replace {
			for p := range folded {
				if p != c.Path && fspath.IsAncestor(c.Path, p) {
					delete(folded, p)
				}
			}
		}
	}
	return folded, nil
}

func foldChange(folded map[string]*Change, c *Change) error {
	old, ok := folded[c.Path]
	if !ok {
		if c.Kind != Reset {
			cc := *c
			folded[c.Path] = &cc
		}
		return nil
	}
	if c.NodeID.IsZero() && c.Kind != Reset {
		return fserr.Corrupt("missing required node revision id for change to '%s'", c.Path)
	}
	if old.Kind == Delete && c.Kind != Add && c.Kind != Replace && c.Kind != Reset {
		return fserr.Corrupt("invalid change ordering: non-add change on deleted path '%s'", c.Path)
	}
	if c.Kind == Add && old.Kind != Delete {
		return fserr.Corrupt("invalid change ordering: add change on preexisting path '%s'", c.Path)
	}
	switch c.Kind {
	case Reset:
		delete(folded, c.Path)
	case Delete:
		if old.Kind == Add {
			// Added and deleted within the transaction: nothing happened.
			delete(folded, c.Path)
			return nil
		}
		old.Kind = Delete
		old.NodeID = c.NodeID
		old.NodeKind = c.NodeKind
		old.TextMod, old.PropMod = c.TextMod, c.PropMod
		old.CopyFromRev, old.CopyFromPath = nodeid.InvalidRevnum, ""
	case Add, Replace:
		old.Kind = Replace
		old.NodeID = c.NodeID
		old.NodeKind = c.NodeKind
		old.TextMod, old.PropMod = c.TextMod, c.PropMod
		old.CopyFromRev, old.CopyFromPath = c.CopyFromRev, c.CopyFromPath
	default:
		old.NodeID = c.NodeID
		old.TextMod = old.TextMod || c.TextMod
		old.PropMod = old.PropMod || c.PropMod
	}
	return nil
}

func sortedChanges(folded map[string]*Change) []*Change {
	result := make([]*Change, 0, len(folded))
	for _, c := range folded {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b *Change) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return result
}
