package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

func TestValidateImage(t *testing.T) {
	ext, err := ValidateImage("me.JPG", "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, ".jpg", ext)

	ext, err = ValidateImage("me.png", "image/png; charset=binary")
	require.NoError(t, err)
	require.Equal(t, ".png", ext)

	for _, tc := range []struct{ name, mime string }{
		{"me.gif", "image/gif"},
		{"me.png", "image/jpeg"},
		{"me.jpeg", "text/plain"},
		{"me", "image/png"},
		{"me.png", ""},
	} {
		_, err := ValidateImage(tc.name, tc.mime)
		require.ErrorIs(t, err, ErrUnsupportedImage, tc.name)
	}

	require.True(t, strings.HasPrefix(NewAvatarName(".png"), "avatar-"))
	require.True(t, strings.HasSuffix(NewAvatarName(".png"), ".png"))
}

func TestFilesystemStoreSaveAndDelete(t *testing.T) {
	public := t.TempDir()
	store, err := NewFilesystemStore(public, "uploads/avatars")
	require.NoError(t, err)
	ctx := context.Background()

	location, err := store.Save(ctx, "avatar-1.png", "image/png", strings.NewReader("png-bytes"), 9)
	require.NoError(t, err)
	require.Equal(t, "/uploads/avatars/avatar-1.png", location)

	content, err := os.ReadFile(filepath.Join(public, "uploads", "avatars", "avatar-1.png"))
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(content))

	require.NoError(t, store.Delete(ctx, location))
	_, err = os.Stat(filepath.Join(public, "uploads", "avatars", "avatar-1.png"))
	require.True(t, os.IsNotExist(err))

	// Missing files and foreign locations are ignored.
	require.NoError(t, store.Delete(ctx, location))
	require.NoError(t, store.Delete(ctx, "https://cdn.example.com/a.png"))
	require.NoError(t, store.Delete(ctx, "/uploads/avatars/../../secret"))
}

type fakeS3 struct {
	puts    []*s3.PutObjectInput
	bodies  [][]byte
	deletes []*s3.DeleteObjectInput
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletes = append(f.deletes, in)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreSaveAndDelete(t *testing.T) {
	client := &fakeS3{}
	store := newS3Store(client, S3Config{Bucket: "avatars-bucket", Region: "eu-west-1", Endpoint: "http://127.0.0.1:9000/"})
	ctx := context.Background()

	location, err := store.Save(ctx, "avatar-1.png", "image/png", bytes.NewReader([]byte("img")), 3)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9000/avatars-bucket/avatars/avatar-1.png", location)

	require.Len(t, client.puts, 1)
	require.Equal(t, "avatars-bucket", *client.puts[0].Bucket)
	require.Equal(t, "avatars/avatar-1.png", *client.puts[0].Key)
	require.Equal(t, "image/png", *client.puts[0].ContentType)
	require.EqualValues(t, 3, *client.puts[0].ContentLength)
	require.Equal(t, []byte("img"), client.bodies[0])

	require.NoError(t, store.Delete(ctx, location))
	require.Len(t, client.deletes, 1)
	require.Equal(t, "avatars/avatar-1.png", *client.deletes[0].Key)

	require.NoError(t, store.Delete(ctx, "/uploads/avatars/old.png"))
	require.Len(t, client.deletes, 1)
}

func TestS3StoreErrors(t *testing.T) {
	store := newS3Store(&fakeS3{err: errors.New("access denied")}, S3Config{Bucket: "b", Region: "us-east-1"})
	_, err := store.Save(context.Background(), "a.png", "image/png", strings.NewReader("x"), 1)
	require.ErrorContains(t, err, "access denied")

	_, err = NewS3Store(context.Background(), S3Config{})
	require.Error(t, err)
}

func TestPublicBaseURL(t *testing.T) {
	require.Equal(t, "https://cdn.example.com", publicBaseURL(S3Config{PublicURL: "https://cdn.example.com/", Bucket: "b"}))
	require.Equal(t, "https://b.s3.us-east-1.amazonaws.com", publicBaseURL(S3Config{Bucket: "b", Region: "us-east-1"}))
}
