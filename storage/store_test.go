package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_PutThenGetRoundTrips(t *testing.T) {
	client := NewMockS3Client()
	store := NewStoreFromClient(client, "forms")

	err := store.Put(context.Background(), "raw/don-xin-viec.pdf", "application/pdf", []byte("%PDF-1.4 contents"))
	require.NoError(t, err)

	data, err := store.Get(context.Background(), "raw/don-xin-viec.pdf")
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 contents", string(data))
}

func TestStore_GetMissingKeyErrors(t *testing.T) {
	client := NewMockS3Client()
	store := NewStoreFromClient(client, "forms")

	_, err := store.Get(context.Background(), "missing/key.pdf")
	require.Error(t, err)
}

func TestStore_EnsureBucketCreatesWhenAbsent(t *testing.T) {
	client := NewMockS3Client()
	store := NewStoreFromClient(client, "forms")

	err := store.EnsureBucket(context.Background())
	require.NoError(t, err)
	require.True(t, client.CreateBucketCalled)
	require.True(t, client.Buckets["forms"])
}

func TestStore_EnsureBucketSkipsCreateWhenPresent(t *testing.T) {
	client := NewMockS3Client()
	client.Buckets["forms"] = true
	store := NewStoreFromClient(client, "forms")

	err := store.EnsureBucket(context.Background())
	require.NoError(t, err)
	require.False(t, client.CreateBucketCalled)
}

func TestSharedHTTPClient_IsConfigured(t *testing.T) {
	require.NotNil(t, sharedHTTPClient)
	require.NotNil(t, sharedHTTPClient.Transport)
	require.Greater(t, sharedHTTPClient.Timeout.Seconds(), float64(0))
}
