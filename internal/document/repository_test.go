package document

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"collaborative-doc-sync/internal/domain"
	"collaborative-doc-sync/internal/engine"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDb connects to the postgres named by TEST_DATABASE_DSN, e.g.
// "host=localhost user=postgres password=postgres dbname=collab_test sslmode=disable".
func openTestDb(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.User{}, &domain.Document{}, &domain.DocumentCollaborator{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, name string) *domain.User {
	t.Helper()
	u := &domain.User{
		Name:         name,
		Email:        fmt.Sprintf("%s-%s@example.com", name, uuid.NewString()),
		PasswordHash: "x",
	}
	require.NoError(t, db.Create(u).Error)
	t.Cleanup(func() { db.Delete(&domain.User{}, u.ID) })
	return u
}

func createTestDocument(t *testing.T, db *gorm.DB, repo DocumentRepository, ownerID uint64) *domain.Document {
	t.Helper()
	doc := &domain.Document{Title: "Notes", Content: json.RawMessage(`{}`)}
	require.NoError(t, repo.Create(context.Background(), ownerID, doc))
	t.Cleanup(func() {
		db.Where("document_id = ?", doc.ID).Delete(&domain.DocumentCollaborator{})
		db.Delete(&domain.Document{}, "id = ?", doc.ID)
	})
	return doc
}

func TestRepository_ConditionalCommitSingleWinner(t *testing.T) {
	db := openTestDb(t)
	repo := NewRepository(db)
	owner := createTestUser(t, db, "owner")
	doc := createTestDocument(t, db, repo, owner.ID)

	const proposers = 8
	results := make([]engine.CommitResult[json.RawMessage], proposers)
	errs := make([]error, proposers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < proposers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			content := json.RawMessage(fmt.Sprintf(`{"by":%d}`, i))
			results[i], errs[i] = repo.ConditionalCommit(context.Background(), doc.ID, 0, content, time.Now().UTC())
		}()
	}
	close(start)
	wg.Wait()

	winner := -1
	for i := 0; i < proposers; i++ {
		require.NoError(t, errs[i])
		if results[i].Committed {
			require.Equal(t, -1, winner, "more than one commit on the same base")
			winner = i
		}
	}
	require.NotEqual(t, -1, winner)

	want := fmt.Sprintf(`{"by":%d}`, winner)
	for i := 0; i < proposers; i++ {
		assert.Equal(t, uint64(1), results[i].Current.Version)
		assert.JSONEq(t, want, string(results[i].Current.Content))
	}

	stored, err := repo.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored.Version)
	assert.JSONEq(t, want, string(stored.Content))
}

func TestRepository_ConditionalCommitStaleAndMissing(t *testing.T) {
	db := openTestDb(t)
	repo := NewRepository(db)
	owner := createTestUser(t, db, "owner")
	doc := createTestDocument(t, db, repo, owner.ID)
	ctx := context.Background()

	res, err := repo.ConditionalCommit(ctx, doc.ID, 0, json.RawMessage(`"one"`), time.Now().UTC())
	require.NoError(t, err)
	require.True(t, res.Committed)

	res, err = repo.ConditionalCommit(ctx, doc.ID, 5, json.RawMessage(`"ahead"`), time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.Equal(t, uint64(1), res.Current.Version)
	assert.JSONEq(t, `"one"`, string(res.Current.Content))

	_, err = repo.ConditionalCommit(ctx, uuid.NewString(), 0, json.RawMessage(`"x"`), time.Now().UTC())
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestRepository_GrantCollaboratorIsIdempotent(t *testing.T) {
	db := openTestDb(t)
	repo := NewRepository(db)
	owner := createTestUser(t, db, "owner")
	guest := createTestUser(t, db, "guest")
	doc := createTestDocument(t, db, repo, owner.ID)
	ctx := context.Background()

	require.NoError(t, repo.GrantCollaborator(ctx, doc.ID, guest.ID))
	require.NoError(t, repo.GrantCollaborator(ctx, doc.ID, guest.ID))
	// The owner already has a row; granting must not demote it.
	require.NoError(t, repo.GrantCollaborator(ctx, doc.ID, owner.ID))

	stored, err := repo.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{guest.ID}, stored.Collaborators)

	ids, err := repo.MemberIDs(ctx, doc.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{owner.ID, guest.ID}, ids)
}

func TestRepository_EngineRoundTrip(t *testing.T) {
	db := openTestDb(t)
	repo := NewRepository(db)
	owner := createTestUser(t, db, "owner")
	guest := createTestUser(t, db, "guest")
	doc := createTestDocument(t, db, repo, owner.ID)
	eng := engine.New[json.RawMessage](repo)
	ctx := context.Background()

	_, err := eng.ProposeEdit(ctx, doc.ID, json.RawMessage(`"x"`), 0, guest.ID)
	assert.ErrorIs(t, err, engine.ErrForbidden)

	snap, access, err := eng.Join(ctx, doc.ID, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.AccessCollaborator, access)
	assert.Equal(t, uint64(0), snap.Version)

	res, err := eng.ProposeEdit(ctx, doc.ID, json.RawMessage(`"guest edit"`), 0, guest.ID)
	require.NoError(t, err)
	require.True(t, res.Committed)
	assert.Equal(t, uint64(1), res.Snapshot.Version)

	res, err = eng.ProposeEdit(ctx, doc.ID, json.RawMessage(`"owner late"`), 0, owner.ID)
	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.JSONEq(t, `"guest edit"`, string(res.Snapshot.Content))
}
