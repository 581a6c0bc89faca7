// Package semantics implements the Semantics Mode policy described in
// spec.md §4.B: a pure table of rules evaluated against a mutation command,
// independent of any index writer or log state.
package semantics

// Mode names the four supported semantics modes.
type Mode string

const (
	Classic        Mode = "classic"
	StrictInsert   Mode = "strict-insert"
	StrictUpdate   Mode = "strict-update"
	VersionHybrid  Mode = "version-hybrid"
)

// Rule is one named check a mode may or may not enforce.
type Rule struct {
	Enforced bool
	Reason   string
}

// RequestShape is the subset of a command the rule table needs to decide
// version-hybrid's conditional rules (RequireExistingDocument,
// RequireNoExistingDocument, RequireVersionEquality all depend on the sign
// of the requested version).
type RequestShape struct {
	RequestedVersion int64
	IsUpdate         bool // false for add, true for delete-by-id/update-in-place paths that need existence
}

// Rules is the full set of policy decisions for one command under one mode.
type Rules struct {
	RequireUniqueKeyFieldInSchema Rule
	RequireUniqueKeyInDoc         Rule
	RequireVersionFieldInSchema   Rule
	RequireUpdateLog              Rule
	NeedToLookupExistingVersion   Rule // leader only
	RequireExistingDocument       Rule
	RequireNoExistingDocument     Rule
	RequireVersionEquality        Rule
	NeedToDeleteOldVersion        Rule
}

func always(reason string) Rule  { return Rule{Enforced: true, Reason: reason} }
func never() Rule                { return Rule{Enforced: false} }
func when(cond bool, reason string) Rule {
	if cond {
		return Rule{Enforced: true, Reason: reason}
	}
	return Rule{Enforced: false}
}

// Evaluate returns the rule table for mode applied to the given request
// shape, per the table in spec.md §4.B.
func Evaluate(mode Mode, req RequestShape) Rules {
	switch mode {
	case StrictInsert:
		return Rules{
			RequireUniqueKeyFieldInSchema: always("strict-insert requires a unique key field"),
			RequireUniqueKeyInDoc:         always("strict-insert requires the unique key in the document"),
			RequireVersionFieldInSchema:   never(),
			RequireUpdateLog:              never(),
			NeedToLookupExistingVersion:   always("strict-insert must check for an existing document"),
			RequireExistingDocument:       never(),
			RequireNoExistingDocument:     always("strict-insert rejects an existing document"),
			RequireVersionEquality:        never(),
			NeedToDeleteOldVersion:        always("updates must retract the previous version"),
		}
	case StrictUpdate:
		return Rules{
			RequireUniqueKeyFieldInSchema: always("strict-update requires a unique key field"),
			RequireUniqueKeyInDoc:         always("strict-update requires the unique key in the document"),
			RequireVersionFieldInSchema:   never(),
			RequireUpdateLog:              never(),
			NeedToLookupExistingVersion:   always("strict-update must check for an existing document"),
			RequireExistingDocument:       always("strict-update requires the document to already exist"),
			RequireNoExistingDocument:     never(),
			RequireVersionEquality:        never(),
			NeedToDeleteOldVersion:        always("updates must retract the previous version"),
		}
	case VersionHybrid:
		return Rules{
			RequireUniqueKeyFieldInSchema: always("version-hybrid requires a unique key field"),
			RequireUniqueKeyInDoc:         always("version-hybrid requires the unique key in the document"),
			RequireVersionFieldInSchema:   always("version-hybrid requires a version field"),
			RequireUpdateLog:              always("version-hybrid requires an update log"),
			NeedToLookupExistingVersion:   always("version-hybrid must check the current version"),
			RequireExistingDocument:       when(req.RequestedVersion > 0, "an explicit positive version asserts the document must already exist"),
			RequireNoExistingDocument:     when(req.RequestedVersion < 0, "a negative requested version asserts insert-only"),
			RequireVersionEquality:        when(req.RequestedVersion > 0, "an explicit positive version must match the current version"),
			NeedToDeleteOldVersion:        always("updates must retract the previous version"),
		}
	case Classic:
		fallthrough
	default:
		return Rules{
			RequireUniqueKeyFieldInSchema: never(),
			RequireUniqueKeyInDoc:         never(),
			RequireVersionFieldInSchema:   never(),
			RequireUpdateLog:              never(),
			NeedToLookupExistingVersion:   never(),
			RequireExistingDocument:       never(),
			RequireNoExistingDocument:     never(),
			RequireVersionEquality:        never(),
			NeedToDeleteOldVersion:        always("classic mode always retracts the previous version on update"),
		}
	}
}
