// Package core contains canonical warden domain contracts, entities, and
// orchestration logic: certificate lifecycle, session issuance and
// validation, and the rate/revocation tracking that backs mass revocation.
// Lower-level adapters (session stores, the ACME authority client, identity
// resolvers, the bridge) must depend on this package; core must not depend
// on backend-specific or transport-specific adapters.
package core
