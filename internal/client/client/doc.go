// Package client talks to the FileVault HTTP API.
//
// # Overview
//
// Client is the API contract used by the CLI; HTTPClient implements it over
// net/http. An HTTPClient holds one session at a time: CreateSession stores
// the returned bearer token, UseSession targets a live session by name only,
// and RefreshSession extends it and fetches a fresh token.
//
// Uploads are split into chunks carrying absolute offsets and the declared
// total size. Download retries while the server answers 423 Locked, which is
// how the server reports that a file is still being encrypted or decrypted.
//
// # Error Handling
//
// Non-2xx responses are returned as *APIError, which unwraps to one of the
// sentinels ErrUnauthorized, ErrNotFound, ErrConflict, ErrLocked or
// ErrUnavailable. Transport failures wrap ErrUnavailable.
package client
