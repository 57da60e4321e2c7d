package domain

// RecoverableError is implemented by enriched errors that carry structured
// context and a remediation hint. Both internal/store and internal/cliutil
// use this interface to avoid an import cycle between the two.
type RecoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}
