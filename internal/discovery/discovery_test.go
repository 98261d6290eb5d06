package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	browses []chan Service
	errs    []error
	calls   int
}

func (f *fakePort) Browse(ctx context.Context, targetName string) (<-chan Service, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.browses[i], nil
}

func (f *fakePort) Publish(name string, port int) (func(), error) {
	return func() {}, nil
}

func TestFindOnceReturnsFirstMatch(t *testing.T) {
	ch := make(chan Service, 1)
	ch <- Service{Name: "node", Host: "127.0.0.1", Port: 9000}
	p := &fakePort{browses: []chan Service{ch}, errs: []error{nil}}

	svc, err := FindOnce(context.Background(), p, "node")
	require.NoError(t, err)
	assert.Equal(t, 9000, svc.Port)
}

func TestFindOnceReturnsContextErrorWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Service)
	p := &fakePort{browses: []chan Service{ch}, errs: []error{nil}}

	cancel()
	_, err := FindOnce(ctx, p, "node")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindOnceRetriesAfterBrowseError(t *testing.T) {
	old := retryInterval
	retryInterval = 10 * time.Millisecond
	defer func() { retryInterval = old }()

	ch := make(chan Service, 1)
	ch <- Service{Name: "node", Host: "10.0.0.1", Port: 7000}
	p := &fakePort{
		browses: []chan Service{nil, ch},
		errs:    []error{errors.New("boom"), nil},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	svc, err := FindOnce(ctx, p, "node")
	require.NoError(t, err)
	assert.Equal(t, 7000, svc.Port)
}

func TestFindOnceRetriesAfterEmptyChannelClose(t *testing.T) {
	old := retryInterval
	retryInterval = 10 * time.Millisecond
	defer func() { retryInterval = old }()

	empty := make(chan Service)
	close(empty)
	ch := make(chan Service, 1)
	ch <- Service{Name: "node", Host: "10.0.0.2", Port: 7001}

	p := &fakePort{
		browses: []chan Service{empty, ch},
		errs:    []error{nil, nil},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	svc, err := FindOnce(ctx, p, "node")
	require.NoError(t, err)
	assert.Equal(t, 7001, svc.Port)
}
