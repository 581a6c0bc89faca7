package updatehandler

import "github.com/shardcore/updatecore/internal/updatemodel"

// CommitCmdFromAuto builds the CommitCmd an auto-commit fires with.
func CommitCmdFromAuto(openSearcher, soft bool) updatemodel.CommitCmd {
	return updatemodel.CommitCmd{
		SoftCommit:   soft,
		OpenSearcher: openSearcher,
	}
}
