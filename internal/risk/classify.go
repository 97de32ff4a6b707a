package risk

import "strings"

// Level grades the exposure of a single sharing permission.
type Level string

const (
	LevelSafe   Level = "SAFE"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Reasons attached to a verdict. Order of accumulation is stable: public,
// external, privilege.
const (
	ReasonPublic        = "Publicly accessible"
	ReasonExternal      = "External user"
	ReasonHighPrivilege = "High privilege access"
)

// Permission is the classifier's view of one sharing grant. Email may be
// empty for domain-wide and anyone-type shares.
type Permission struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	Type  string `json:"type"`
}

// Verdict is the classification of one permission: the level plus the
// reasons supporting it. Reasons order matters for display only.
type Verdict struct {
	Level   Level    `json:"level"`
	Reasons []string `json:"reasons"`
}

const (
	typeAnyone = "anyone"
	roleWriter = "writer"
	roleOwner  = "owner"
)

// Classify grades one permission against the principal's email. Pure and
// deterministic: identical inputs always yield identical verdicts.
//
// The external-user check compares the principal's domain as a suffix of
// the full grantee email. That lets x@notco.com pass for domain co.com; see
// the classifier tests.
func Classify(p Permission, principalEmail string) Verdict {
	var reasons []string
	domain := emailDomain(principalEmail)

	if p.Type == typeAnyone {
		reasons = append(reasons, ReasonPublic)
	}
	if p.Email != "" && domain != "" && !strings.HasSuffix(p.Email, domain) {
		reasons = append(reasons, ReasonExternal)
	}
	if p.Role == roleWriter || p.Role == roleOwner {
		reasons = append(reasons, ReasonHighPrivilege)
	}

	level := LevelSafe
	switch {
	case len(reasons) >= 2:
		level = LevelHigh
	case len(reasons) == 1:
		level = LevelMedium
	}
	return Verdict{Level: level, Reasons: reasons}
}

// Weight maps a level to its score contribution.
func Weight(level Level) int {
	switch level {
	case LevelHigh:
		return 10
	case LevelMedium:
		return 5
	default:
		return 0
	}
}

// Score reduces classified levels into one account-level number in [0,100]:
// min(100, sum of weights). The cap is a display ceiling, not a severity
// measure; past it the score no longer discriminates. Empty input scores 0.
func Score(levels []Level) int {
	score := 0
	for _, level := range levels {
		score += Weight(level)
		if score >= 100 {
			return 100
		}
	}
	return score
}

// emailDomain returns the substring after the last "@", or "" when absent.
func emailDomain(email string) string {
	idx := strings.LastIndex(email, "@")
	if idx < 0 || idx == len(email)-1 {
		return ""
	}
	return email[idx+1:]
}
