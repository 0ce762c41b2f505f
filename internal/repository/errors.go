// Package repository defines error values that are reused across the data
// access layer.  Handlers match them with errors.Is to pick a status code;
// any other error coming out of a repository is a store failure.
package repository

import "github.com/juju/errors"

// ErrSongNotFound is returned when no song matches the requested id.
// Handlers should translate this into an HTTP 404 response.
const ErrSongNotFound = errors.ConstError("song not found")

// ErrDuplicateID is returned when a song with the same application id is
// already stored.  It is raised both by the explicit existence check and by
// the unique index on the id field.
const ErrDuplicateID = errors.ConstError("song id already present")
