// Package objectstore moves image artifacts between the local filesystem and
// the HTTP blob store that holds job inputs and results.
package objectstore
