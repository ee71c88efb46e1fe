package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBucketDefaults(t *testing.T) {
	s := openTestStore(t)

	b := createTestBucket(t, s, "photos")
	assert.NotZero(t, b.ID)
	assert.Equal(t, BucketStopped, b.Status)
	assert.Equal(t, []string{"/src/photos"}, b.Sources())
}

func TestCreateBucketDuplicateName(t *testing.T) {
	s := openTestStore(t)

	createTestBucket(t, s, "photos")

	dup := &Bucket{Name: "photos", DestinationFolder: "/elsewhere"}
	require.NoError(t, dup.SetSources([]string{"/other"}))
	err := s.CreateBucket(context.Background(), dup)
	require.ErrorIs(t, err, ErrDuplicateBucket)
}

func TestGetBucketByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := createTestBucket(t, s, "docs")

	got, err := s.GetBucketByName(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = s.GetBucketByName(ctx, "missing")
	require.ErrorIs(t, err, ErrBucketNotFound)
}

func TestListBucketsOrdered(t *testing.T) {
	s := openTestStore(t)

	createTestBucket(t, s, "zulu")
	createTestBucket(t, s, "alpha")
	createTestBucket(t, s, "mike")

	buckets, err := s.ListBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, "alpha", buckets[0].Name)
	assert.Equal(t, "mike", buckets[1].Name)
	assert.Equal(t, "zulu", buckets[2].Name)
}

func TestUpdateBucket(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := createTestBucket(t, s, "docs")
	b.WorkerCount = 8
	require.NoError(t, b.SetSources([]string{"/src/docs", "/src/more"}))
	require.NoError(t, s.UpdateBucket(ctx, b))

	got, err := s.GetBucket(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.WorkerCount)
	assert.Equal(t, []string{"/src/docs", "/src/more"}, got.Sources())

	missing := &Bucket{ID: 999, Name: "ghost"}
	require.ErrorIs(t, s.UpdateBucket(ctx, missing), ErrBucketNotFound)
}

func TestUpdateBucketDuplicateName(t *testing.T) {
	s := openTestStore(t)

	createTestBucket(t, s, "first")
	b := createTestBucket(t, s, "second")

	b.Name = "first"
	require.ErrorIs(t, s.UpdateBucket(context.Background(), b), ErrDuplicateBucket)
}

func TestSetBucketStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := createTestBucket(t, s, "docs")
	require.NoError(t, s.SetBucketStatus(ctx, b.ID, BucketRunning))

	got, err := s.GetBucket(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, BucketRunning, got.Status)

	require.ErrorIs(t, s.SetBucketStatus(ctx, 999, BucketRunning), ErrBucketNotFound)
}

func TestDeleteBucketCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := createTestBucket(t, s, "doomed")
	keep := createTestBucket(t, s, "kept")

	_, err := s.InsertMany(ctx, b.ID, []FileEntry{
		testEntry(b.ID, "/src/doomed", "a", 10),
		testEntry(b.ID, "/src/doomed", "b", 20),
	})
	require.NoError(t, err)
	_, err = s.InsertMany(ctx, keep.ID, []FileEntry{
		testEntry(keep.ID, "/src/kept", "c", 5),
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteBucket(ctx, b.ID))

	_, err = s.GetBucket(ctx, b.ID)
	require.ErrorIs(t, err, ErrBucketNotFound)

	var rows int64
	require.NoError(t, s.DB().Model(&FileEntry{}).Where("bucket_id = ?", b.ID).Count(&rows).Error)
	assert.Zero(t, rows)

	// The ledger forgot the deleted bucket but kept the survivor.
	global := s.Stats(nil)
	assert.Equal(t, int64(1), global[StatusPending].Count)
	assert.Equal(t, int64(5), global[StatusPending].TotalSize)

	require.ErrorIs(t, s.DeleteBucket(ctx, 999), ErrBucketNotFound)
}
