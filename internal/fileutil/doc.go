// Package fileutil provides small filesystem helpers: creating the parent
// directory of the allocation ledger and probing device data files.
package fileutil
