package obs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackOperation_RecordsSuccessAndFailure(t *testing.T) {
	p, err := New(Config{ServiceName: "peac-core-test", ServiceVersion: "0.0.0-test"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, done := p.TrackOperation(context.Background(), "enforce")
	done(nil)

	_, done2 := p.TrackOperation(context.Background(), "enforce")
	done2(errors.New("boom"))
}
