package escrow

import "github.com/karmacadabra/agent/internal/kerrors"

// ValidateEvidence implements spec §4.4's pre-approve check: for each kind
// in required, the submission's evidence map must contain a non-empty
// payload. Returns the first missing kind as kerrors.EvidenceMissing.
func ValidateEvidence(required []string, submitted map[string]any) error {
	for _, kind := range required {
		payload, ok := submitted[kind]
		if !ok || isEmpty(payload) {
			return kerrors.EvidenceMissing(kind)
		}
	}
	return nil
}

func isEmpty(payload any) bool {
	switch v := payload.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}
