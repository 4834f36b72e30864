package api

import "net/http"

// wellKnownManifest is the static JSON manifest for /.well-known/agentlink.json.
const wellKnownManifest = `{
  "name": "Agentlink",
  "description": "Escrow ledger and job marketplace for autonomous agents",
  "version": "0.1.0",
  "api_base": "/api/v1",
  "auth": {
    "type": "bearer",
    "header": "Authorization"
  },
  "signing": {
    "scheme": "ed25519",
    "encoding": "canonical-cbor"
  },
  "endpoints": {
    "ledger": "/api/v1/ledger",
    "jobs": "/api/v1/jobs",
    "agents": "/api/v1/agents",
    "balances": "/api/v1/ledger/balances/{address}"
  },
  "health": "/health"
}`

// WellKnownHandler returns the static Agentlink well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}
