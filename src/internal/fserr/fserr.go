// Package fserr defines the errors reported by the versioned tree layer.  Each kind of failure is a
// concrete type (or a sentinel) so callers can classify wrapped errors with errors.As / errors.Is,
// or with the Is* predicates below.
package fserr

import (
	"fmt"

	"github.com/pachyderm/fsfs/src/internal/errors"
)

var (
	// ErrCannotDeleteRoot is returned when deleting "/".
	ErrCannotDeleteRoot = errors.New("the root directory cannot be deleted")
	// ErrOutOfDate is returned by the commit primitive when the transaction's base is no longer the
	// youngest revision.
	ErrOutOfDate = errors.New("transaction out of date")
	// ErrNotTxnRoot is returned when a mutation is attempted on a revision root.
	ErrNotTxnRoot = errors.New("root object must be a transaction root")
	// ErrNotRevisionRoot is returned when an operation needs a revision root.
	ErrNotRevisionRoot = errors.New("root object must be a revision root")
	// ErrTooMuchContention is returned when a commit gives up after repeated out-of-date retries.
	ErrTooMuchContention = errors.New("too much contention: commit retried too many times")
)

// PathNotFoundError is returned when a path does not exist in a root.
type PathNotFoundError struct {
	Root string
	Path string
}

func (err *PathNotFoundError) Error() string {
	if err.Root == "" {
		return fmt.Sprintf("path '%s' not found", err.Path)
	}
	return fmt.Sprintf("path '%s' not found in %s", err.Path, err.Root)
}

// NotDirectoryError is returned when a non-final path component, or an operation's target, is not a
// directory.
type NotDirectoryError struct {
	Path string
}

func (err *NotDirectoryError) Error() string {
	return fmt.Sprintf("'%s' is not a directory", err.Path)
}

// NotFileError is returned when an operation needs a file.
type NotFileError struct {
	Path string
}

func (err *NotFileError) Error() string {
	return fmt.Sprintf("'%s' is not a file", err.Path)
}

// NotMutableError is returned when a node that must be mutable is not.
type NotMutableError struct {
	Path string
}

func (err *NotMutableError) Error() string {
	return fmt.Sprintf("node at '%s' is not mutable", err.Path)
}

// AlreadyExistsError is returned when creating a node where one already exists.
type AlreadyExistsError struct {
	Root string
	Path string
}

func (err *AlreadyExistsError) Error() string {
	return fmt.Sprintf("path '%s' already exists in %s", err.Path, err.Root)
}

// InvalidPathError is returned for paths that cannot name a node.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (err *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path '%s': %s", err.Path, err.Reason)
}

// ConflictError is the result of a merge that could not be completed.  Path is the first
// conflicting path found.
type ConflictError struct {
	Path string
}

func (err *ConflictError) Error() string {
	return fmt.Sprintf("conflict at '%s'", err.Path)
}

// CorruptError is returned when stored data violates an invariant.
type CorruptError struct {
	Msg string
}

func (err *CorruptError) Error() string {
	return "filesystem corruption: " + err.Msg
}

// MalfunctionError reports a broken internal precondition.
type MalfunctionError struct {
	Msg string
}

func (err *MalfunctionError) Error() string {
	return "malfunction: " + err.Msg
}

// NoSuchRevisionError is returned when a revision does not exist.
type NoSuchRevisionError struct {
	Rev int64
}

func (err *NoSuchRevisionError) Error() string {
	return fmt.Sprintf("no such revision %d", err.Rev)
}

// NoSuchTxnError is returned when a transaction does not exist.
type NoSuchTxnError struct {
	Txn string
}

func (err *NoSuchTxnError) Error() string {
	return fmt.Sprintf("no such transaction '%s'", err.Txn)
}

// TxnBusyError is returned when a representation is already being written in a transaction.
type TxnBusyError struct {
	Txn string
}

func (err *TxnBusyError) Error() string {
	return fmt.Sprintf("transaction '%s' is already writing a representation", err.Txn)
}

// UnsupportedError is returned for operations the filesystem does not support, such as copying from
// a transaction root or between filesystems.
type UnsupportedError struct {
	Msg string
}

func (err *UnsupportedError) Error() string {
	return "unsupported: " + err.Msg
}

// ChecksumMismatchError is returned when text does not match the checksum a caller supplied.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (err *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for '%s': expected %s, actual %s", err.Path, err.Expected, err.Actual)
}

// FormatError is returned when a feature needs a newer filesystem format.
type FormatError struct {
	Feature string
	Need    int
	Have    int
}

func (err *FormatError) Error() string {
	return fmt.Sprintf("%s requires filesystem format %d; this filesystem uses format %d", err.Feature, err.Need, err.Have)
}

// LockedError is returned when a path is reserved by a lock the caller cannot use.
type LockedError struct {
	Path   string
	Owner  string
	Reason string
}

func (err *LockedError) Error() string {
	if err.Owner == "" {
		return fmt.Sprintf("path '%s' is locked: %s", err.Path, err.Reason)
	}
	return fmt.Sprintf("path '%s' is locked by user '%s': %s", err.Path, err.Owner, err.Reason)
}

// NoSuchLockError is returned when unlocking a path that has no lock.
type NoSuchLockError struct {
	Path string
}

func (err *NoSuchLockError) Error() string {
	return fmt.Sprintf("no lock on path '%s'", err.Path)
}

// Corrupt returns a CorruptError with a stack.
func Corrupt(format string, args ...any) error {
	return errors.WithStack(&CorruptError{Msg: fmt.Sprintf(format, args...)})
}

// Malfunction returns a MalfunctionError with a stack.
func Malfunction(format string, args ...any) error {
	return errors.WithStack(&MalfunctionError{Msg: fmt.Sprintf(format, args...)})
}

func is[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	return is[*PathNotFoundError](err)
}

func IsNotDirectory(err error) bool {
	return is[*NotDirectoryError](err)
}

func IsNotFile(err error) bool {
	return is[*NotFileError](err)
}

// IsNotMutable reports whether err is a failed attempt to mutate an immutable node, including any
// edit through a revision root.
func IsNotMutable(err error) bool {
	return is[*NotMutableError](err) || errors.Is(err, ErrNotTxnRoot)
}

func IsAlreadyExists(err error) bool {
	return is[*AlreadyExistsError](err)
}

func IsInvalidPath(err error) bool {
	return is[*InvalidPathError](err)
}

func IsConflict(err error) bool {
	return is[*ConflictError](err)
}

func IsCorrupt(err error) bool {
	return is[*CorruptError](err)
}

func IsMalfunction(err error) bool {
	return is[*MalfunctionError](err)
}

func IsNoSuchRevision(err error) bool {
	return is[*NoSuchRevisionError](err)
}

func IsNoSuchTxn(err error) bool {
	return is[*NoSuchTxnError](err)
}

func IsTxnBusy(err error) bool {
	return is[*TxnBusyError](err)
}

func IsUnsupported(err error) bool {
	return is[*UnsupportedError](err)
}

func IsChecksumMismatch(err error) bool {
	return is[*ChecksumMismatchError](err)
}

func IsFormat(err error) bool {
	return is[*FormatError](err)
}

func IsLocked(err error) bool {
	return is[*LockedError](err)
}

func IsNoSuchLock(err error) bool {
	return is[*NoSuchLockError](err)
}

func IsOutOfDate(err error) bool {
	return errors.Is(err, ErrOutOfDate)
}

func IsCannotDeleteRoot(err error) bool {
	return errors.Is(err, ErrCannotDeleteRoot)
}

func IsNotTxnRoot(err error) bool {
	return errors.Is(err, ErrNotTxnRoot)
}

func IsNotRevisionRoot(err error) bool {
	return errors.Is(err, ErrNotRevisionRoot)
}

func IsTooMuchContention(err error) bool {
	return errors.Is(err, ErrTooMuchContention)
}
