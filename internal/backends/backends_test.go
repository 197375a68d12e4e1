package backends

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MemoryGraphServesAsLedger(t *testing.T) {
	set, err := Open(context.Background(), Params{Graph: GraphMemory})
	require.NoError(t, err)
	defer set.Close()

	m, ok := set.Graph.(*memory.Store)
	require.True(t, ok)
	assert.Same(t, m, set.Ledger)
	assert.NotNil(t, set.Lister)
	assert.NotNil(t, set.Embedding)
	assert.NotNil(t, set.Extractor)
	assert.Nil(t, set.Pool)
}

func TestOpen_SQLiteLedger(t *testing.T) {
	set, err := Open(context.Background(), Params{
		Graph:      GraphMemory,
		Ledger:     LedgerSQLite,
		SQLitePath: t.TempDir() + "/ledger.db",
	})
	require.NoError(t, err)
	defer set.Close()

	_, isMemory := set.Ledger.(*memory.Store)
	assert.False(t, isMemory)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), Params{Graph: "graphite"})
	assert.ErrorContains(t, err, "unknown graph backend")

	_, err = Open(context.Background(), Params{Graph: GraphMemory, Ledger: "etcd"})
	assert.ErrorContains(t, err, "unknown ledger backend")

	_, err = Open(context.Background(), Params{Graph: GraphPostgres})
	assert.ErrorContains(t, err, "DATABASE_URL")
}
