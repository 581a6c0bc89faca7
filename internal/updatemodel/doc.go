// Package updatemodel defines the document identity, mutation commands, and
// error taxonomy shared by the update handler and peer sync.
package updatemodel
