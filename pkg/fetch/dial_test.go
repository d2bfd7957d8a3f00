package fetch

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseLoserWhenDone_ClosesLateSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	ch := make(chan dialResult, 1)
	done := make(chan struct{})
	go func() {
		closeLoserWhenDone(ch)
		close(done)
	}()

	ch <- dialResult{conn: client, ip: net.ParseIP("127.0.0.1"), err: nil}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("closeLoserWhenDone did not return")
	}

	_, err := client.Write([]byte("x"))
	assert.Error(t, err, "the losing side's connection must be closed once it resolves after the race is already decided")
}

func TestCloseLoserWhenDone_IgnoresFailedAttempt(t *testing.T) {
	ch := make(chan dialResult, 1)
	done := make(chan struct{})
	go func() {
		closeLoserWhenDone(ch)
		close(done)
	}()

	ch <- dialResult{conn: nil, ip: nil, err: assertErr{}}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("closeLoserWhenDone did not return on a failed loser")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "dial failed" }

func TestHappyEyeballsDial_SingleFamilySkipsRace(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		c, err := l.Accept()
		if err == nil {
			c.Close()
		}
	}()

	_, port, _ := net.SplitHostPort(l.Addr().String())
	addrs := []ResolvedAddr{{IP: net.ParseIP("127.0.0.1")}}

	conn, ip, err := happyEyeballsDial(t.Context(), &net.Dialer{}, "tcp", addrs, port, 250*time.Millisecond)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, net.ParseIP("127.0.0.1").String(), ip.String())
}
