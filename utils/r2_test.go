package utils

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	key  string
	body []byte
	err  error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.key = *in.Key
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestR2Uploader_PutJSON(t *testing.T) {
	putter := &fakePutter{}
	u := NewR2UploaderWithClient(putter, "reports", "https://cdn.example.com")

	url, err := u.PutJSON(context.Background(), "remediation/x.json", map[string]int{"reward_id": 7})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/remediation/x.json", url)
	assert.Equal(t, "remediation/x.json", putter.key)

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(putter.body, &decoded))
	assert.Equal(t, 7, decoded["reward_id"])
}

func TestR2Uploader_PutJSONError(t *testing.T) {
	u := NewR2UploaderWithClient(&fakePutter{err: errors.New("boom")}, "reports", "https://cdn")

	_, err := u.PutJSON(context.Background(), "k", struct{}{})
	assert.ErrorContains(t, err, "failed to upload to R2")
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "remediation/commit_failure/steve-the-miner/01ABC.json",
		ObjectKey("remediation/commit_failure", "Steve The Miner", "01ABC", "json"))
	assert.Equal(t, "p/unknown/1.json", ObjectKey("p", "", "1", "json"))
}
