// Package gwmemstore contains in-memory implementations of the gwstore interfaces.
package gwmemstore
