// Package formats reads and writes the chunked model container: the skeleton
// chunk, the geometry chunk and its sections, and any other chunk kept as
// opaque bytes.
//
// Parsing never panics on malformed input. Truncated or inconsistent data
// returns ErrMalformedContainer, and a version outside the record tables
// returns ErrUnsupportedVersion. Cross-references are not checked on
// read; see Geometry.CheckReferences.
package formats
