package aws

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"auth failure", apiError("AuthFailure"), ErrAuthentication},
		{"bad token", apiError("InvalidClientTokenId"), ErrAuthentication},
		{"opt in", apiError("OptInRequired"), ErrRegionUnavailable},
		{"dns", &net.DNSError{Err: "no such host", Name: "ec2.xx-nowhere-1.amazonaws.com"}, ErrRegionUnavailable},
		{"deadline", context.DeadlineExceeded, ErrProviderTimeout},
		{"other api", apiError("VpcLimitExceeded"), ErrProviderResource},
		{"plain", errors.New("boom"), ErrProviderResource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := wrap("op", tc.err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := invalid("bad")
	err := wrap("outer", inner)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrProviderResource)
}

func TestWaitUntilHonoursBound(t *testing.T) {
	poll := PollConfig{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	calls := 0
	err := waitUntil(context.Background(), poll, 20*time.Millisecond, "never", func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.ErrorIs(t, err, ErrProviderTimeout)
	assert.Greater(t, calls, 1)
}

func TestWaitUntilStopsOnError(t *testing.T) {
	poll := PollConfig{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	boom := errors.New("boom")
	calls := 0
	err := waitUntil(context.Background(), poll, time.Second, "broken", func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestClientFactoryRequiresCredentials(t *testing.T) {
	_, err := NewClientFactory(Credentials{AccessKeyID: "AKIA"})
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestClientFactoryCachesPerRegion(t *testing.T) {
	f, err := NewClientFactory(Credentials{AccessKeyID: "AKIA", SecretAccessKey: "secret"}, WithEndpoint("http://localhost:4566"))
	require.NoError(t, err)

	_, err = f.Clients(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidArgument)

	a, err := f.Clients(context.Background(), "eu-west-1")
	require.NoError(t, err)
	b, err := f.Clients(context.Background(), "eu-west-1")
	require.NoError(t, err)
	c, err := f.Clients(context.Background(), "us-east-1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "us-east-1", c.Region)
}
