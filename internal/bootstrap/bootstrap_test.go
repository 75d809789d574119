package bootstrap

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brineshore/kadnet/internal/channelpool"
	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/peer"
	"github.com/brineshore/kadnet/internal/registry"
	"github.com/brineshore/kadnet/internal/sign"
	"github.com/brineshore/kadnet/internal/transport"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func testPeer() peer.Address {
	var id [20]byte
	id[0] = 9
	return peer.New(id, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), 6881, 6881), peer.Flags{Relayed: true})
}

func TestAddSeedPeer_UpsertsRow(t *testing.T) {
	s, mock := newMockStore(t)
	p := testPeer()

	mock.ExpectExec("INSERT INTO seed_peers").
		WithArgs(p.PeerID[:], "127.0.0.1", 6881, 6881, false, false, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.AddSeedPeer(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedPeers_ScansRowsIntoAddresses(t *testing.T) {
	s, mock := newMockStore(t)
	p := testPeer()

	rows := sqlmock.NewRows([]string{"peer_id", "ip", "tcp_port", "udp_port", "firewalled_tcp", "firewalled_udp", "relayed"}).
		AddRow(p.PeerID[:], "127.0.0.1", 6881, 6881, false, false, true)
	mock.ExpectQuery("SELECT.*FROM seed_peers").WillReturnRows(rows)

	got, err := s.SeedPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p.PeerID, got[0].PeerID)
	assert.True(t, got[0].Flags.Relayed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailure_InsertsRow(t *testing.T) {
	s, mock := newMockStore(t)
	p := testPeer()

	mock.ExpectExec("INSERT INTO peer_failures").
		WithArgs(p.PeerID[:], "127.0.0.1", 6881, "send failure").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.RecordFailure(context.Background(), p, "send failure"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribeFailures_RecordsOnlyRealSendFailures(t *testing.T) {
	s, mock := newMockStore(t)

	var localID [20]byte
	localID[0] = 1
	local := peer.New(localID, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), 0, 0), peer.Flags{})
	tr := transport.New(local, channelpool.NewPool(4, 4), registry.New(), sign.NoopFactory{}, transport.Config{
		ConnectTimeout: time.Second,
		IdleTCP:        time.Second,
		IdleUDP:        time.Second,
		HolePunchN:     3,
	})
	SubscribeFailures(s, tr)

	var recipientID [20]byte
	recipientID[0] = 2
	// Port 1 on loopback refuses connections immediately.
	recipient := peer.New(recipientID, peer.NewSocketAddress(net.ParseIP("127.0.0.1"), 1, 1), peer.Flags{})

	mock.ExpectExec("INSERT INTO peer_failures").
		WithArgs(recipient.PeerID[:], "127.0.0.1", 1, "send failure").
		WillReturnResult(sqlmock.NewResult(1, 1))

	msg := message.Message{
		ID:        tr.NextMessageID(),
		Sender:    local,
		Recipient: recipient,
		Command:   message.CommandPing,
		Type:      message.TypeRequest1,
	}
	completion, err := tr.Send(context.Background(), msg, transport.SendOptions{ExpectReply: true})
	require.NoError(t, err)
	<-completion.Done()

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)
}
