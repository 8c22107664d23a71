package lockdown

import "strings"

// PromptVerdict is the classification of an OS pin dialog's text.
type PromptVerdict int

const (
	// VerdictUnknown means the text matched no known phrasing.
	VerdictUnknown PromptVerdict = iota
	// VerdictAccepted means the dialog indicates the pin was or will be granted.
	VerdictAccepted
	// VerdictDeclined means the dialog indicates the examinee refused the pin.
	VerdictDeclined
)

// PromptClassifier decides what an OS pin dialog's text means. OS vendors
// reword these dialogs between releases, so classification is best-effort
// and the controller gives up after repeated unknowns.
type PromptClassifier interface {
	Classify(text string) PromptVerdict
}

// substringClassifier matches known phrasings case-insensitively.
type substringClassifier struct {
	accepted []string
	declined []string
}

// DefaultClassifier recognizes the stock pin dialog phrasings.
func DefaultClassifier() PromptClassifier {
	return &substringClassifier{
		accepted: []string{"got it", "start", "pinned", "screen is pinned"},
		declined: []string{"no thanks", "cancel", "decline", "dismiss"},
	}
}

func (s *substringClassifier) Classify(text string) PromptVerdict {
	lower := strings.ToLower(text)
	for _, d := range s.declined {
		if strings.Contains(lower, d) {
			return VerdictDeclined
		}
	}
	for _, a := range s.accepted {
		if strings.Contains(lower, a) {
			return VerdictAccepted
		}
	}
	return VerdictUnknown
}
