package privacy

import "chronicler/internal/services"

// Payload is a provider request that passed the gate. Its fields are
// unexported so a Payload can only be minted by Gate.Seal.
type Payload struct {
	system string
	user   string
	sealed bool
}

// System returns the system prompt.
func (p Payload) System() string { return p.system }

// User returns the user prompt.
func (p Payload) User() string { return p.user }

// Sealed reports whether the payload came from Gate.Seal.
func (p Payload) Sealed() bool { return p.sealed }

// Seal checks both prompts and returns a sendable payload.
func (g *Gate) Seal(system, user string) (Payload, error) {
	if err := g.check("system prompt", system); err != nil {
		return Payload{}, err
	}
	if err := g.check("user prompt", user); err != nil {
		return Payload{}, err
	}
	return Payload{system: system, user: user, sealed: true}, nil
}

// Require returns an error unless p was produced by Seal.
func Require(p Payload) error {
	if !p.sealed {
		return services.Wrap(services.ErrPrivacyViolation, "privacy", "require", "payload was not sealed by the privacy gate", nil)
	}
	return nil
}
