// Package dag stores the node-revision DAG of a versioned tree.
//
// Every committed revision is an immutable tree of node-revisions rooted at the revision's root
// directory.  A transaction holds mutable node-revisions that are successors of committed ones;
// committing a transaction writes its mutable nodes as a new revision.  Records are kept in a
// kv.Store: structured records as CBOR, representation bodies (file text, directory entries,
// property lists) zstd compressed.
package dag

import (
	"fmt"
	"strconv"

	"github.com/pachyderm/fsfs/src/internal/nodeid"
)

// Kind is the kind of a node.
type Kind int

const (
	None Kind = iota
	File
	Dir
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Dir:
		return "dir"
	default:
		return "none"
	}
}

// RepKey locates a representation: either in a revision or, while mutable, in a transaction.
type RepKey struct {
	Rev  nodeid.Revnum `cbor:"rev"`
	Txn  nodeid.TxnID  `cbor:"txn,omitempty"`
	Item uint64        `cbor:"item"`
}

// IsMutable reports whether the representation belongs to a transaction.
func (k RepKey) IsMutable() bool {
	return k.Txn != ""
}

func (k RepKey) String() string {
	if k.IsMutable() {
		return fmt.Sprintf("t%s/%d", k.Txn, k.Item)
	}
	return fmt.Sprintf("r%d/%d", k.Rev, k.Item)
}

// DirEntry is one entry of a directory.
type DirEntry struct {
	ID   nodeid.ID `cbor:"id"`
	Kind Kind      `cbor:"kind"`
}

// NodeRev is the stored record of a node-revision.
type NodeRev struct {
	ID   nodeid.ID `cbor:"id"`
	Kind Kind      `cbor:"kind"`
	// Predecessor is nil for the first node-revision of a node.
	Predecessor      *nodeid.ID `cbor:"pred,omitempty"`
	PredecessorCount int        `cbor:"count"`

	// CopyFromRev is InvalidRevnum unless this node-revision is the target of a copy with history.
	CopyFromRev  nodeid.Revnum `cbor:"cfr"`
	CopyFromPath string        `cbor:"cfp,omitempty"`
	// CopyRoot is the root of the copy this node-revision was created under.  Inside a transaction,
	// CopyRootRev is InvalidRevnum for copies made by the transaction itself; committing resolves it
	// to the new revision.
	CopyRootRev  nodeid.Revnum `cbor:"crr"`
	CopyRootPath string        `cbor:"crp"`
	CreatedPath  string        `cbor:"path"`

	PropRep      *RepKey `cbor:"props,omitempty"`
	DataRep      *RepKey `cbor:"data,omitempty"`
	TextChecksum string  `cbor:"sum,omitempty"`
	TextLength   int64   `cbor:"len,omitempty"`

	// MergeinfoCount is the number of nodes in this subtree, including this one, that carry
	// mergeinfo.
	MergeinfoCount int64 `cbor:"mic,omitempty"`
	HasMergeinfo   bool  `cbor:"mi,omitempty"`
	IsFreshTxnRoot bool  `cbor:"fresh,omitempty"`
}

// Clone returns a deep copy of nr.
func (nr *NodeRev) Clone() *NodeRev {
	c := *nr
	if nr.Predecessor != nil {
		p := *nr.Predecessor
		c.Predecessor = &p
	}
	if nr.PropRep != nil {
		k := *nr.PropRep
		c.PropRep = &k
	}
	if nr.DataRep != nil {
		k := *nr.DataRep
		c.DataRep = &k
	}
	return &c
}

// HasDescendantsWithMergeinfo reports whether some node strictly below this directory carries
// mergeinfo.
func (nr *NodeRev) HasDescendantsWithMergeinfo() bool {
	if nr.Kind != Dir {
		return false
	}
	return nr.MergeinfoCount > 1 || (nr.MergeinfoCount == 1 && !nr.HasMergeinfo)
}

// Record keys.
const (
	formatKey     = "format"
	uuidKey       = "uuid"
	youngestKey   = "youngest"
	txnCurrentKey = "txn-current"
	nextIDsKey    = "next-ids"
	originPrefix  = "origins/"
	txnPrefix     = "txn/"
)

func revKey(rev nodeid.Revnum, suffix string) []byte {
	return []byte("rev/" + strconv.FormatInt(int64(rev), 10) + "/" + suffix)
}

func txnKeyPrefix(txn nodeid.TxnID) string {
	return txnPrefix + string(txn) + "/"
}

func txnKey(txn nodeid.TxnID, suffix string) []byte {
	return []byte(txnKeyPrefix(txn) + suffix)
}

func nodeKey(id nodeid.ID) []byte {
	item := "node/" + strconv.FormatUint(id.Item, 10)
	if id.IsMutable() {
		return txnKey(id.Txn, item)
	}
	return revKey(id.Rev, item)
}

func repKey(k RepKey) []byte {
	item := "rep/" + strconv.FormatUint(k.Item, 10)
	if k.IsMutable() {
		return txnKey(k.Txn, item)
	}
	return revKey(k.Rev, item)
}

func originKey(nodeID string) []byte {
	return []byte(originPrefix + nodeID)
}
