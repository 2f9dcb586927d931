package memory

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vianexus/agentmemory/internal/session"
	"github.com/vianexus/agentmemory/internal/storage"
	"github.com/vianexus/agentmemory/pkg/types"
)

func newTestFacade(t *testing.T, userID, clientType string, opts Options) (*Facade, *session.Manager) {
	t.Helper()
	mgr := session.New(storage.NewVolatileStore(), 1024)
	f, err := New(context.Background(), mgr, userID, clientType, opts)
	require.NoError(t, err)
	return f, mgr
}

func TestFacade_CreatesSessionOnBind(t *testing.T) {
	f, mgr := newTestFacade(t, "trader_001", "anthropic", Options{Context: "portfolio"})

	assert.Equal(t, "trader_001", f.UserID())
	assert.NotEmpty(t, f.SessionID())

	rec, err := mgr.Get(context.Background(), f.SessionID())
	require.NoError(t, err)
	assert.Equal(t, "trader_001", rec.UserID)
	assert.Equal(t, "anthropic", rec.ClientType)
	assert.Equal(t, "portfolio", rec.Metadata[types.MetaContext])
}

func TestFacade_ResumeSameSession(t *testing.T) {
	f, mgr := newTestFacade(t, "alice", "anthropic", Options{})
	ctx := context.Background()

	_, err := f.Append(ctx, types.RoleUser, "remember this")
	require.NoError(t, err)

	resumed, err := New(ctx, mgr, "alice", "openai", Options{SessionID: f.SessionID()})
	require.NoError(t, err)
	assert.Equal(t, f.SessionID(), resumed.SessionID())

	history, err := resumed.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "remember this", history[0].Content)
}

func TestFacade_RejectsForeignSession(t *testing.T) {
	f, mgr := newTestFacade(t, "alice", "anthropic", Options{})

	_, err := New(context.Background(), mgr, "mallory", "anthropic", Options{SessionID: f.SessionID()})
	assert.ErrorIs(t, err, ErrUserMismatch)
}

func TestFacade_ResumeMissingSession(t *testing.T) {
	mgr := session.New(storage.NewVolatileStore(), 1024)
	ctx := context.Background()

	id := "anthropic_alice_20260830_120000_ab12cd34"
	_, err := New(ctx, mgr, "alice", "anthropic", Options{SessionID: id})
	assert.ErrorIs(t, err, session.ErrNotFound)

	f, err := New(ctx, mgr, "alice", "anthropic", Options{SessionID: id, CreateIfMissing: true})
	require.NoError(t, err)
	assert.Equal(t, id, f.SessionID())
}

func TestFacade_HistoryWindow(t *testing.T) {
	f, _ := newTestFacade(t, "alice", "anthropic", Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.Append(ctx, types.RoleUser, "msg "+strconv.Itoa(i))
		require.NoError(t, err)
	}

	history, err := f.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "msg 3", history[0].Content)
	assert.Equal(t, "msg 4", history[1].Content)

	full, err := f.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, full, 5)
}

func TestFacade_ClearAndStats(t *testing.T) {
	f, _ := newTestFacade(t, "alice", "anthropic", Options{})
	ctx := context.Background()

	_, err := f.Append(ctx, types.RoleUser, "hello")
	require.NoError(t, err)
	_, err = f.Append(ctx, types.RoleAssistant, "hi there")
	require.NoError(t, err)

	stats, err := f.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MessageCount)

	require.NoError(t, f.Clear(ctx))

	stats, err = f.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.MessageCount)
}

func TestFacade_Search(t *testing.T) {
	f, mgr := newTestFacade(t, "alice", "anthropic", Options{})
	ctx := context.Background()

	_, err := f.Append(ctx, types.RoleUser, "remind me about the budget")
	require.NoError(t, err)
	_, err = f.Append(ctx, types.RoleAssistant, "the Budget review is Friday")
	require.NoError(t, err)

	// A second session for the same user.
	other, err := New(ctx, mgr, "alice", "anthropic", Options{Context: "side"})
	require.NoError(t, err)
	_, err = other.Append(ctx, types.RoleUser, "budget for the side project")
	require.NoError(t, err)

	// Another user's session with a matching message.
	foreign, err := New(ctx, mgr, "bob", "anthropic", Options{})
	require.NoError(t, err)
	_, err = foreign.Append(ctx, types.RoleUser, "bob budget secret")
	require.NoError(t, err)

	// Default scope is the bound session only.
	got, err := f.Search(ctx, "budget", 0, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, msg := range got {
		assert.Equal(t, f.SessionID(), msg.SessionID)
	}

	// allSessions widens to the bound user, never to other users.
	got, err = f.Search(ctx, "budget", 0, true)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, msg := range got {
		assert.NotEqual(t, foreign.SessionID(), msg.SessionID)
	}

	got, err = f.Search(ctx, "budget", 1, true)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// Exercises the full scenario: a trader runs a portfolio conversation, clones
// it to explore an alternative, and both histories evolve independently.
func TestFacade_CloneScenario(t *testing.T) {
	f, mgr := newTestFacade(t, "trader_001", "anthropic", Options{Context: "portfolio"})
	ctx := context.Background()

	_, err := f.Append(ctx, types.RoleUser, "how is my portfolio positioned?")
	require.NoError(t, err)
	_, err = f.Append(ctx, types.RoleAssistant, "overweight tech, light on energy")
	require.NoError(t, err)

	cloneID, err := mgr.Clone(ctx, f.SessionID(), "scenario_b")
	require.NoError(t, err)

	cloneFacade, err := New(ctx, mgr, "trader_001", "anthropic", Options{SessionID: cloneID})
	require.NoError(t, err)
	_, err = cloneFacade.Append(ctx, types.RoleUser, "assume oil doubles")
	require.NoError(t, err)

	parentHistory, err := f.History(ctx, 0)
	require.NoError(t, err)
	cloneHistory, err := cloneFacade.History(ctx, 0)
	require.NoError(t, err)

	assert.Len(t, parentHistory, 2)
	assert.Len(t, cloneHistory, 3)

	cloneRec, err := mgr.Get(ctx, cloneID)
	require.NoError(t, err)
	assert.Equal(t, f.SessionID(), cloneRec.Metadata[types.MetaParentSession])
	assert.Equal(t, "scenario_b", cloneRec.Metadata[types.MetaContext])
}
