package executor

// Collaborator is the single capability the executor requires from any
// out-of-core external collaborator (a browser layer, for instance): a
// black-box string describing its current state, inserted as the
// synthetic external-state message on every loop turn. A nil Collaborator
// is valid — FormatForChat is simply never called and no external-state
// message is inserted.
type Collaborator interface {
	FormatForChat() string
}

// NoopCollaborator is a Collaborator with no external state, useful for
// actions that never touch a side-effecting primitive.
type NoopCollaborator struct{}

// FormatForChat always returns the empty string.
func (NoopCollaborator) FormatForChat() string { return "" }
