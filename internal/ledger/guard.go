package ledger

// Role names which party an instruction's signer must be. The guard
// resolves the role to an agent record through the escrow's own
// requester/worker fields, so a caller can never satisfy a check by
// supplying an unrelated agent record.
type Role uint8

const (
	RoleRequester Role = iota
	RoleWorker
	RoleEither
)

// requireAuthority checks that signer is the operational authority of
// the given agent record.
func requireAuthority(a *Agent, signer Address) error {
	if a.Authority != signer {
		return ErrUnauthorized
	}
	return nil
}

// requireRole resolves the agent record that holds the required role
// on the escrow and checks the signer against its authority. It
// returns the matched agent record so the instruction can mutate it
// without a second load.
func requireRole(v AccountView, esc *Escrow, role Role, signer Address) (*Agent, error) {
	switch role {
	case RoleRequester:
		return roleAgent(v, esc.Requester, signer)
	case RoleWorker:
		if esc.Worker.IsZero() {
			return nil, ErrUnauthorized
		}
		return roleAgent(v, esc.Worker, signer)
	case RoleEither:
		if a, err := roleAgent(v, esc.Requester, signer); err == nil {
			return a, nil
		}
		if esc.Worker.IsZero() {
			return nil, ErrUnauthorized
		}
		return roleAgent(v, esc.Worker, signer)
	}
	return nil, ErrUnauthorized
}

func roleAgent(v AccountView, addr Address, signer Address) (*Agent, error) {
	a, err := v.Agent(addr)
	if err != nil {
		return nil, err
	}
	if err := requireAuthority(a, signer); err != nil {
		return nil, err
	}
	return a, nil
}
