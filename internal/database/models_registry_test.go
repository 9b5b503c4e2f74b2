package database

import (
	"testing"

	modelspkg "playforge/internal/models"

	"github.com/stretchr/testify/require"
)

func TestPersistentModels_IncludesLedgerAndJobs(t *testing.T) {
	var ledger, jobs bool
	for _, model := range PersistentModels() {
		switch model.(type) {
		case *modelspkg.CoinLedgerEntry:
			ledger = true
		case *modelspkg.GenerationJob:
			jobs = true
		}
	}
	require.True(t, ledger, "PersistentModels should include CoinLedgerEntry")
	require.True(t, jobs, "PersistentModels should include GenerationJob")
}
