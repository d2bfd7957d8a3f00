package schema

import "regexp"

// purposeTokenPattern matches spec §3.4's grammar for a purpose token,
// optionally qualified with a colon-separated sub-purpose.
var purposeTokenPattern = regexp.MustCompile(`^[a-z](?:[a-z0-9_-]*[a-z0-9])?(?::[a-z](?:[a-z0-9_-]*[a-z0-9])?)?$`)

const maxPurposeTokenLen = 64

// CanonicalPurposes is the known vocabulary; tokens outside this set are
// still accepted on the wire but are tagged with reason "unknown_preserved"
// rather than rejected.
var CanonicalPurposes = map[string]bool{
	"train":       true,
	"search":      true,
	"user_action": true,
	"inference":   true,
	"index":       true,
}

// Purpose reason taxonomy, spec §3.4.
const (
	ReasonAllowed           = "allowed"
	ReasonConstrained       = "constrained"
	ReasonDenied            = "denied"
	ReasonDowngraded        = "downgraded"
	ReasonUndeclaredDefault = "undeclared_default"
	ReasonUnknownPreserved  = "unknown_preserved"
)

// ValidPurposeToken reports whether token is syntactically valid per the
// spec's grammar and length bound. It does not check vocabulary membership;
// unknown-but-well-formed tokens are valid and simply get tagged
// ReasonUnknownPreserved by the enforcement engine.
func ValidPurposeToken(token string) bool {
	if token == "" || len(token) > maxPurposeTokenLen {
		return false
	}
	return purposeTokenPattern.MatchString(token)
}

// ClassifyPurpose returns ReasonUnknownPreserved for a well-formed token
// outside CanonicalPurposes, or "" for a canonical one (the caller decides
// the actual enforcement reason for canonical tokens).
func ClassifyPurpose(token string) string {
	if !CanonicalPurposes[token] {
		return ReasonUnknownPreserved
	}
	return ""
}

// IsUndeclared reports whether the wire value is the explicit sentinel
// "undeclared", which spec §4.5 requires be rejected with 400 rather than
// silently defaulted.
func IsUndeclared(token string) bool {
	return token == "undeclared"
}
