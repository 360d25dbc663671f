package server

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	v1 "k8s.io/externaljwt/apis/v1"
	"k8s.io/externaljwt/apis/v1alpha1"

	"github.com/zarvd/jwks-server/internal/key"
	"github.com/zarvd/jwks-server/internal/token"
)

func encodedTestClaims(t *testing.T) string {
	t.Helper()
	claims := `{"sub":"system:serviceaccount:default:test","exp":4102444800}`
	return base64.RawURLEncoding.EncodeToString([]byte(claims))
}

func TestV1Server_Sign(t *testing.T) {
	t.Parallel()

	t.Run("signs with the bootstrapped key", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		svr := NewV1Server(env.logger, env.backend)

		claims := encodedTestClaims(t)
		resp, err := svr.Sign(context.Background(), &v1.SignJWTRequest{Claims: claims})
		require.NoError(t, err)

		k, err := env.store.Get(token.PrimaryKeyID)
		require.NoError(t, err)

		parsed, err := jwt.Parse(resp.Header+"."+claims+"."+resp.Signature,
			func(*jwt.Token) (any, error) { return k.PublicKey(), nil },
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithTimeFunc(env.clock.Now),
		)
		require.NoError(t, err)
		assert.Equal(t, token.PrimaryKeyID, parsed.Header["kid"])
	})

	t.Run("generation failure", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, key.WithKeyGenerator(failingGenerator))
		svr := NewV1Server(env.logger, env.backend)

		_, err := svr.Sign(context.Background(), &v1.SignJWTRequest{Claims: encodedTestClaims(t)})
		require.Error(t, err)
		assert.Equal(t, codes.Internal, status.Code(err))
	})
}

func TestV1Server_SignPublishesKeyAfterExpiry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	svr := NewV1Server(env.logger, env.backend)
	ctx := context.Background()
	req := &v1.SignJWTRequest{Claims: encodedTestClaims(t)}

	kidOf := func(resp *v1.SignJWTResponse) string {
		parsed, _, err := jwt.NewParser().ParseUnverified(resp.Header+"."+req.Claims+"."+resp.Signature, jwt.MapClaims{})
		require.NoError(t, err)
		kid, _ := parsed.Header["kid"].(string)
		return kid
	}
	published := func() []string {
		resp, err := svr.FetchKeys(ctx, &v1.FetchKeysRequest{})
		require.NoError(t, err)
		ids := make([]string, 0, len(resp.Keys))
		for _, k := range resp.Keys {
			ids = append(ids, k.KeyId)
		}
		return ids
	}

	resp, err := svr.Sign(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, token.PrimaryKeyID, kidOf(resp))
	assert.Contains(t, published(), token.PrimaryKeyID)

	// Past the primary key's validity window.
	env.clock.Advance(2 * time.Hour)

	resp, err = svr.Sign(ctx, req)
	require.NoError(t, err)
	kid := kidOf(resp)
	assert.NotEqual(t, token.PrimaryKeyID, kid)
	assert.Equal(t, []string{kid}, published())
}

func TestV1Server_FetchKeys(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	svr := NewV1Server(env.logger, env.backend)

	resp, err := svr.FetchKeys(context.Background(), &v1.FetchKeysRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Keys)
	assert.Equal(t, int64(1800), resp.RefreshHintSeconds)

	k, err := env.store.Generate("key1")
	require.NoError(t, err)
	_, err = env.store.Generate("key2")
	require.NoError(t, err)
	env.clock.Advance(time.Minute)
	_, err = env.store.ForceExpire("key2")
	require.NoError(t, err)

	resp, err = svr.FetchKeys(context.Background(), &v1.FetchKeysRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Keys, 1)
	assert.Equal(t, "key1", resp.Keys[0].KeyId)
	assert.False(t, resp.Keys[0].ExcludeFromOidcDiscovery)
	assert.Equal(t, env.clock.Now(), resp.DataTimestamp.AsTime())

	pub, err := x509.ParsePKIXPublicKey(resp.Keys[0].Key)
	require.NoError(t, err)
	assert.True(t, k.PublicKey().Equal(pub))
}

func TestV1Server_Metadata(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	svr := NewV1Server(env.logger, env.backend)

	resp, err := svr.Metadata(context.Background(), &v1.MetadataRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3600), resp.MaxTokenExpirationSeconds)
}

func TestV1Alpha1Server(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	svr := NewV1Alpha1Server(env.logger, env.backend)

	signed, err := svr.Sign(context.Background(), &v1alpha1.SignJWTRequest{Claims: encodedTestClaims(t)})
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Signature)

	keys, err := svr.FetchKeys(context.Background(), &v1alpha1.FetchKeysRequest{})
	require.NoError(t, err)
	require.Len(t, keys.Keys, 1)
	assert.Equal(t, token.PrimaryKeyID, keys.Keys[0].KeyId)

	meta, err := svr.Metadata(context.Background(), &v1alpha1.MetadataRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3600), meta.MaxTokenExpirationSeconds)
}
