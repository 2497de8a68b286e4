// Package storage holds what the artifact store backends share.
package storage

import "errors"

// ErrObjectExists is returned when a blob store refuses to overwrite an existing object.
var ErrObjectExists = errors.New("object already exists")
