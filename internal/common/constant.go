// Package common contains shared constants and sentinel errors used across
// FileVault components.
package common

// AuthorizationHeaderName carries an optional session bearer token.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the session token in the Authorization header.
const BearerPrefix = "Bearer "

// SessionNameParam is the query/form/body key naming the session.
const SessionNameParam = "session_name"
