// Package sentinel provides an immutable error type for sentinel error declarations.
//
// Errors declared with errors.New live in package variables that callers could
// reassign. Error is a string type, so pool and backend errors can be declared
// as constants and still be matched with errors.Is through wrapped chains.
package sentinel
