package dag

import (
	"context"
	"encoding/hex"
	"maps"

	"github.com/zeebo/blake3"

	"github.com/pachyderm/fsfs/src/internal/codec"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/storage/kv"
)

// Checksum returns the hex BLAKE3 digest of data, the form file checksums are kept in.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (r *Repo) readRep(ctx context.Context, k RepKey) ([]byte, error) {
	compressed, err := kv.GetBytes(ctx, r.store, repKey(k))
	if err != nil {
		if kv.IsNotExist(err) {
			return nil, fserr.Corrupt("missing representation %s", k)
		}
		return nil, err
	}
	return codec.Decompress(compressed)
}

func (r *Repo) writeRep(ctx context.Context, k RepKey, data []byte) error {
	return r.store.Put(ctx, repKey(k), codec.Compress(data))
}

func (r *Repo) readProps(ctx context.Context, k *RepKey) (map[string]string, error) {
	props := make(map[string]string)
	if k == nil {
		return props, nil
	}
	data, err := r.readRep(ctx, *k)
	if err != nil {
		return nil, err
	}
	if err := codec.Unmarshal(data, &props); err != nil {
		return nil, fserr.Corrupt("malformed property list %s: %v", k, err)
	}
	return props, nil
}

// readEntries returns the entries of a directory representation.  The result may be modified.
func (r *Repo) readEntries(ctx context.Context, k *RepKey) (map[string]DirEntry, error) {
	if k == nil {
		return make(map[string]DirEntry), nil
	}
	if !k.IsMutable() {
		if entries, ok := r.dirCache.Get(*k); ok {
			return maps.Clone(entries), nil
		}
	}
	data, err := r.readRep(ctx, *k)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]DirEntry)
	if err := codec.Unmarshal(data, &entries); err != nil {
		return nil, fserr.Corrupt("malformed directory %s: %v", k, err)
	}
	if !k.IsMutable() {
		r.dirCache.Add(*k, maps.Clone(entries))
	}
	return entries, nil
}

func encodeEntries(entries map[string]DirEntry) ([]byte, error) {
	return codec.Marshal(entries)
}
