// Engine is the entry point here: callers never see the internal
// snapshot representation, just Grant/Revoke/HasAccess and the Entry and
// Permission values they take.
// This mirrors the teacher's access-control surface (register entries,
// then evaluate) without exposing mutable shared state to readers.
package acl
