// Package pctx builds the contexts used across the filesystem layer.
//
// Contexts carry the logger.  Long-lived owners (a filesystem handle, a commit) derive a named
// child with Child so that their logs read like "fsfs.commit.merge"; tests use TestContext so that
// logs land in the test output.
//
// The convention is to use oneCamelCaseWord for the logger name, and for parents to name their
// children.
package pctx
