// Package oauth implements the authorization-code (PKCE) flow, the rotating
// refresh-token chains and the bearer-token endpoints that gate access to the
// model proxy.
package oauth
