package ceremony

import (
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
)

// ExtensionChecker inspects client extension outputs after the library has
// validated a response. A non-nil error fails the ceremony as an
// authentication failure.
//
// Checkers are registered on the service as an ordered collection, so
// deployments can bolt on policy for extensions warden does not interpret
// itself.
type ExtensionChecker func(outputs protocol.AuthenticationExtensionsClientOutputs) error

// RegisterCreationChecker appends a checker run after attestation validation.
func (s *Service) RegisterCreationChecker(checker ExtensionChecker) {
	if checker == nil {
		return
	}
	s.creationCheckers = append(s.creationCheckers, checker)
}

// RegisterRequestChecker appends a checker run after assertion validation.
func (s *Service) RegisterRequestChecker(checker ExtensionChecker) {
	if checker == nil {
		return
	}
	s.requestCheckers = append(s.requestCheckers, checker)
}

func runCheckers(checkers []ExtensionChecker, outputs protocol.AuthenticationExtensionsClientOutputs) error {
	for _, checker := range checkers {
		if err := checker(outputs); err != nil {
			return failAuth(err)
		}
	}
	return nil
}

// CheckCredProps rejects malformed credProps outputs. When the extension is
// absent the checker passes; clients are not required to request it.
func CheckCredProps(outputs protocol.AuthenticationExtensionsClientOutputs) error {
	raw, ok := outputs["credProps"]
	if !ok {
		return nil
	}
	props, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("credProps output is not an object")
	}
	if rk, ok := props["rk"]; ok {
		if _, ok := rk.(bool); !ok {
			return fmt.Errorf("credProps rk is not a boolean")
		}
	}
	return nil
}

// CheckPRF rejects malformed prf outputs.
func CheckPRF(outputs protocol.AuthenticationExtensionsClientOutputs) error {
	raw, ok := outputs["prf"]
	if !ok {
		return nil
	}
	prf, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("prf output is not an object")
	}
	if enabled, ok := prf["enabled"]; ok {
		if _, ok := enabled.(bool); !ok {
			return fmt.Errorf("prf enabled is not a boolean")
		}
	}
	if results, ok := prf["results"]; ok {
		if _, ok := results.(map[string]any); !ok {
			return fmt.Errorf("prf results is not an object")
		}
	}
	return nil
}
