// Package nodeid identifies node-revisions.
//
// A node-revision id has three logical parts.  The node-id names the line of history a node belongs
// to; successors made by editing keep it.  The copy-id names the branch: nodes reached through a
// copy get a fresh copy-id when they are first modified under the copy.  The location (a revision
// and item, or a transaction and item) names the exact node-revision.
package nodeid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pachyderm/fsfs/src/internal/errors"
)

// Revnum is a revision number.  Revision 0 is the empty initial revision.
type Revnum int64

// InvalidRevnum marks "no revision", for example the copy-from revision of a node that is not a
// copy.
const InvalidRevnum Revnum = -1

// IsValid reports whether r names a revision.
func (r Revnum) IsValid() bool {
	return r >= 0
}

func (r Revnum) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// TxnID names a transaction.
type TxnID string

// NoCopyID is the copy-id of nodes that have never been reached through a copy.
const NoCopyID = "0"

// txnLocalPrefix starts node-ids and copy-ids reserved inside a transaction.
const txnLocalPrefix = "_"

// ID identifies a node-revision.  Exactly one of Txn and Rev locates it: mutable node-revisions
// live in a transaction and have Rev == InvalidRevnum.
type ID struct {
	NodeID string
	CopyID string
	Txn    TxnID
	Rev    Revnum
	Item   uint64
}

// NewRevisionID returns the id of a committed node-revision.
func NewRevisionID(nodeID, copyID string, rev Revnum, item uint64) ID {
	return ID{NodeID: nodeID, CopyID: copyID, Rev: rev, Item: item}
}

// NewTxnID returns the id of a mutable node-revision in txn.
func NewTxnID(nodeID, copyID string, txn TxnID, item uint64) ID {
	return ID{NodeID: nodeID, CopyID: copyID, Txn: txn, Rev: InvalidRevnum, Item: item}
}

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool {
	return id.NodeID == ""
}

// IsMutable reports whether id names a node-revision inside a transaction.
func (id ID) IsMutable() bool {
	return id.Txn != ""
}

// Equal reports whether a and b name the same node-revision.
func (id ID) Equal(other ID) bool {
	return id == other
}

// Related reports whether a and b are revisions of the same node.  Node-ids reserved in a
// transaction are only meaningful inside it.
func (id ID) Related(other ID) bool {
	if IsTxnLocal(id.NodeID) && id.Txn != other.Txn {
		return false
	}
	return id.NodeID == other.NodeID
}

// Compare returns 0 if a and b are equal, 1 if they are different revisions of the same node and -1
// if they are unrelated.
func Compare(a, b ID) int {
	if a.Equal(b) {
		return 0
	}
	if a.Related(b) {
		return 1
	}
	return -1
}

// String formats id as node.copy.r<rev>/<item> or node.copy.t<txn>/<item>.
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	if id.IsMutable() {
		return fmt.Sprintf("%s.%s.t%s/%d", id.NodeID, id.CopyID, id.Txn, id.Item)
	}
	return fmt.Sprintf("%s.%s.r%d/%d", id.NodeID, id.CopyID, id.Rev, id.Item)
}

// Parse parses the output of String.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, nil
	}
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || len(parts[2]) < 2 {
		return ID{}, errors.Errorf("malformed node-revision id %q", s)
	}
	loc, itemStr, ok := strings.Cut(parts[2][1:], "/")
	if !ok || loc == "" {
		return ID{}, errors.Errorf("malformed node-revision id %q", s)
	}
	item, err := strconv.ParseUint(itemStr, 10, 64)
	if err != nil {
		return ID{}, errors.Wrapf(err, "malformed node-revision id %q", s)
	}
	switch parts[2][0] {
	case 'r':
		rev, err := strconv.ParseInt(loc, 10, 64)
		if err != nil || rev < 0 {
			return ID{}, errors.Errorf("malformed node-revision id %q", s)
		}
		return NewRevisionID(parts[0], parts[1], Revnum(rev), item), nil
	case 't':
		return NewTxnID(parts[0], parts[1], TxnID(loc), item), nil
	default:
		return ID{}, errors.Errorf("malformed node-revision id %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IsTxnLocal reports whether a node-id or copy-id was reserved inside a transaction and has not
// been committed.
func IsTxnLocal(key string) bool {
	return strings.HasPrefix(key, txnLocalPrefix)
}

// TxnLocal formats the n'th node-id or copy-id reserved in a transaction.
func TxnLocal(n uint64) string {
	return txnLocalPrefix + strconv.FormatUint(n, 36)
}

// RevLocal is the committed form of the txn-local key "_n" in filesystems whose ids embed their
// origin revision.
func RevLocal(txnLocal string, rev Revnum) string {
	return strings.TrimPrefix(txnLocal, txnLocalPrefix) + "-" + rev.String()
}

// Global formats the n'th key of a filesystem that numbers ids with a global counter.
func Global(n uint64) string {
	return strconv.FormatUint(n, 36)
}

// ParseTxnLocal returns n for a txn-local key "_n".
func ParseTxnLocal(key string) (uint64, error) {
	if !IsTxnLocal(key) {
		return 0, errors.Errorf("%q is not a transaction-local key", key)
	}
	n, err := strconv.ParseUint(key[len(txnLocalPrefix):], 36, 64)
	return n, errors.Wrapf(err, "parse transaction-local key %q", key)
}

// OriginRevision returns the revision embedded in a node-id of the form "n-rev".  Node-ids from
// filesystems with a global counter carry no revision.
func OriginRevision(nodeID string) (Revnum, bool) {
	_, revStr, ok := strings.Cut(nodeID, "-")
	if !ok || revStr == "" {
		return InvalidRevnum, false
	}
	rev, err := strconv.ParseInt(revStr, 10, 64)
	if err != nil {
		return InvalidRevnum, false
	}
	return Revnum(rev), true
}
