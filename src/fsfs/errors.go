package fsfs

import "github.com/pachyderm/fsfs/src/internal/fserr"

// The error taxonomy of the filesystem.  Use the Is* predicates (or errors.As) to classify errors;
// they see through wrapping.
type (
	PathNotFoundError     = fserr.PathNotFoundError
	NotDirectoryError     = fserr.NotDirectoryError
	NotFileError          = fserr.NotFileError
	NotMutableError       = fserr.NotMutableError
	AlreadyExistsError    = fserr.AlreadyExistsError
	InvalidPathError      = fserr.InvalidPathError
	ConflictError         = fserr.ConflictError
	CorruptError          = fserr.CorruptError
	MalfunctionError      = fserr.MalfunctionError
	NoSuchRevisionError   = fserr.NoSuchRevisionError
	NoSuchTxnError        = fserr.NoSuchTxnError
	TxnBusyError          = fserr.TxnBusyError
	UnsupportedError      = fserr.UnsupportedError
	ChecksumMismatchError = fserr.ChecksumMismatchError
	FormatError           = fserr.FormatError
	LockedError           = fserr.LockedError
	NoSuchLockError       = fserr.NoSuchLockError
)

var (
	ErrCannotDeleteRoot  = fserr.ErrCannotDeleteRoot
	ErrOutOfDate         = fserr.ErrOutOfDate
	ErrNotTxnRoot        = fserr.ErrNotTxnRoot
	ErrNotRevisionRoot   = fserr.ErrNotRevisionRoot
	ErrTooMuchContention = fserr.ErrTooMuchContention
)

var (
	IsNotFound          = fserr.IsNotFound
	IsNotDirectory      = fserr.IsNotDirectory
	IsNotFile           = fserr.IsNotFile
	IsNotMutable        = fserr.IsNotMutable
	IsAlreadyExists     = fserr.IsAlreadyExists
	IsInvalidPath       = fserr.IsInvalidPath
	IsConflict          = fserr.IsConflict
	IsCorrupt           = fserr.IsCorrupt
	IsMalfunction       = fserr.IsMalfunction
	IsNoSuchRevision    = fserr.IsNoSuchRevision
	IsNoSuchTxn         = fserr.IsNoSuchTxn
	IsTxnBusy           = fserr.IsTxnBusy
	IsUnsupported       = fserr.IsUnsupported
	IsChecksumMismatch  = fserr.IsChecksumMismatch
	IsFormat            = fserr.IsFormat
	IsLocked            = fserr.IsLocked
	IsNoSuchLock        = fserr.IsNoSuchLock
	IsOutOfDate         = fserr.IsOutOfDate
	IsCannotDeleteRoot  = fserr.IsCannotDeleteRoot
	IsNotTxnRoot        = fserr.IsNotTxnRoot
	IsNotRevisionRoot   = fserr.IsNotRevisionRoot
	IsTooMuchContention = fserr.IsTooMuchContention
)
