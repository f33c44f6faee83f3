// Package ceremony implements WebAuthn relying-party verification.
//
// The package owns the pending-options lifecycle around the protocol
// library: beginning a registration or login ceremony stores the library's
// session data under a single-use ceremony ID, and finishing a ceremony
// correlates that stored state with the signed authenticator response before
// any credential is persisted or trusted.
package ceremony
