package jupiter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/burntcarrot/pairpad/ot"
)

// participant bundles a client registry with the participant's buffer.
type participant struct {
	id     uuid.UUID
	client *Client
	doc    *ot.Text
}

func newParticipant(id uuid.UUID, content string) *participant {
	return &participant{id: id, client: NewClient(id), doc: ot.NewText(content)}
}

func (p *participant) edit(t *testing.T, op ot.Operation) JupiterActivity {
	t.Helper()
	require.NoError(t, p.doc.Apply(op))
	return p.client.Generate(testPath, op)
}

func (p *participant) receive(t *testing.T, a JupiterActivity) ot.Operation {
	t.Helper()
	op, err := p.client.Receive(a)
	require.NoError(t, err)
	require.NoError(t, p.doc.Apply(op))
	return op
}

func newDocumentServer(ids ...uuid.UUID) *DocumentServer {
	s := NewDocumentServer(testPath)
	for _, id := range ids {
		s.AddProxyClient(id)
	}
	return s
}

func TestDocumentServer_ConcurrentInserts(t *testing.T) {
	host, alice := newParticipant(hostID, "ab"), newParticipant(aliceID, "ab")
	s := newDocumentServer(hostID, aliceID)

	fromHost := host.edit(t, ot.Insert{Position: 0, Text: "X"})
	fromAlice := alice.edit(t, ot.Insert{Position: 2, Text: "Y"})

	out, err := s.Transform(fromHost)
	require.NoError(t, err)
	require.Len(t, out, 1)
	toAlice := out[aliceID]

	out, err = s.Transform(fromAlice)
	require.NoError(t, err)
	toHost := out[hostID]
	if !cmp.Equal(toHost.Operation, ot.Operation(ot.Insert{Position: 3, Text: "Y"})) {
		t.Errorf("got != expected, diff: %v\n", cmp.Diff(toHost.Operation, ot.Operation(ot.Insert{Position: 3, Text: "Y"})))
	}

	host.receive(t, toHost)
	alice.receive(t, toAlice)

	require.Equal(t, "XabY", host.doc.String())
	require.Equal(t, "XabY", alice.doc.String())
}

func TestDocumentServer_IdenticalDeletes(t *testing.T) {
	host, alice := newParticipant(hostID, "abc"), newParticipant(aliceID, "abc")
	s := newDocumentServer(hostID, aliceID)

	fromAlice := alice.edit(t, ot.Delete{Position: 0, Length: 2})
	fromHost := host.edit(t, ot.Delete{Position: 0, Length: 2})

	out, err := s.Transform(fromHost)
	require.NoError(t, err)
	toAlice := out[aliceID]

	out, err = s.Transform(fromAlice)
	require.NoError(t, err)
	toHost := out[hostID]
	require.Equal(t, ot.Operation(ot.NoOp{}), toHost.Operation)

	require.Equal(t, ot.Operation(ot.NoOp{}), host.receive(t, toHost))
	require.Equal(t, ot.Operation(ot.NoOp{}), alice.receive(t, toAlice))

	require.Equal(t, "c", host.doc.String())
	require.Equal(t, "c", alice.doc.String())
}

func TestDocumentServer_RemovedParticipant(t *testing.T) {
	s := newDocumentServer(hostID, aliceID, bobID)
	alice := newParticipant(aliceID, "")

	out, err := s.Transform(alice.edit(t, ot.Insert{Position: 0, Text: "hi"}))
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{hostID, bobID}, keys(out))

	require.True(t, s.RemoveProxyClient(aliceID))
	require.False(t, s.RemoveProxyClient(aliceID))
	require.False(t, s.HasProxyClient(aliceID))

	_, err = s.Transform(alice.edit(t, ot.Insert{Position: 0, Text: "!"}))
	require.ErrorIs(t, err, ErrUnknownParticipant)

	bob := newParticipant(bobID, "hi")
	bob.receive(t, out[bobID])
	out, err = s.Transform(bob.edit(t, ot.Delete{Position: 0, Length: 1}))
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{hostID}, keys(out))
}

func TestDocumentServer_StaleChecksum(t *testing.T) {
	s := newDocumentServer(hostID, aliceID, bobID)
	alice := newParticipant(aliceID, "")

	_, err := s.WithTimestamp(ChecksumActivity{Path: testPath, Timestamp: VectorTime{3, 0}, Source: aliceID})
	require.True(t, IsStaleChecksum(err))
	var te *TransformationError
	require.ErrorAs(t, err, &te)
	require.Equal(t, aliceID, te.Participant)

	_, err = s.Transform(alice.edit(t, ot.Insert{Position: 0, Text: "abc"}))
	require.NoError(t, err)

	checksum := alice.client.WithTimestamp(ChecksumActivity{Path: testPath, Checksum: ComputeChecksum(alice.doc.String())})
	out, err := s.WithTimestamp(checksum)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{hostID, bobID}, keysChecksum(out))
	require.Equal(t, VectorTime{1, 0}, out[bobID].Timestamp)
	require.Equal(t, ComputeChecksum("abc"), out[bobID].Checksum)

	// Stamping a checksum changes no channel.
	time, _ := s.Time(bobID)
	require.Equal(t, VectorTime{1, 0}, time)
}

func TestDocumentServer_ChecksumFromUnknownParticipant(t *testing.T) {
	s := newDocumentServer(hostID, aliceID)

	out, err := s.WithTimestamp(ChecksumActivity{Path: testPath, Timestamp: VectorTime{7, 9}, Source: bobID})
	require.ErrorIs(t, err, ErrUnknownParticipant)
	require.False(t, IsTransformationError(err))
	require.Nil(t, out)

	s.RemoveProxyClient(aliceID)
	_, err = s.WithTimestamp(ChecksumActivity{Path: testPath, Source: aliceID})
	require.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestDocumentServer_Reset(t *testing.T) {
	s := newDocumentServer(hostID, aliceID)
	alice := newParticipant(aliceID, "")

	for i := 0; i < 3; i++ {
		_, err := s.Transform(alice.edit(t, ot.Insert{Position: 0, Text: "x"}))
		require.NoError(t, err)
	}
	time, _ := s.Time(aliceID)
	require.Equal(t, VectorTime{0, 3}, time)

	require.NoError(t, s.Reset(aliceID))
	alice.client.Reset(testPath)

	a := alice.edit(t, ot.Insert{Position: 0, Text: "y"})
	require.Equal(t, VectorTime{}, a.Timestamp)
	_, err := s.Transform(a)
	require.NoError(t, err)

	time, _ = s.Time(aliceID)
	require.Equal(t, VectorTime{0, 1}, time)
	require.ErrorIs(t, s.Reset(bobID), ErrUnknownParticipant)
}

func TestDocumentServer_NoCrossTalk(t *testing.T) {
	s := newDocumentServer(hostID, aliceID, bobID)
	host, alice := newParticipant(hostID, "doc"), newParticipant(aliceID, "doc")

	out, err := s.Transform(host.edit(t, ot.Insert{Position: 3, Text: "!"}))
	require.NoError(t, err)
	alice.receive(t, out[aliceID])

	_, err = s.Transform(alice.edit(t, ot.Delete{Position: 0, Length: 1}))
	require.NoError(t, err)

	// Alice acknowledged the host's insert; Bob did not and still holds both.
	require.Equal(t, 0, s.proxies[aliceID].Pending())
	require.Equal(t, 2, s.proxies[bobID].Pending())
	require.Equal(t, 1, s.proxies[hostID].Pending())
}

func TestDocumentServer_Errors(t *testing.T) {
	s := newDocumentServer(hostID)

	_, err := s.Transform(JupiterActivity{Path: testPath, Operation: ot.NoOp{}, Source: aliceID})
	require.ErrorIs(t, err, ErrUnknownParticipant)

	_, err = s.Transform(JupiterActivity{Path: "elsewhere/file", Operation: ot.NoOp{}, Source: hostID})
	require.ErrorIs(t, err, ErrPathMismatch)

	_, err = s.Transform(JupiterActivity{Path: testPath, Timestamp: VectorTime{0, 1}, Operation: ot.NoOp{}, Source: hostID})
	require.True(t, IsTransformationError(err))
}

func TestDocumentServer_AddProxyClientKeepsHistory(t *testing.T) {
	s := newDocumentServer(hostID, aliceID)
	alice := newParticipant(aliceID, "")
	_, err := s.Transform(alice.edit(t, ot.Insert{Position: 0, Text: "x"}))
	require.NoError(t, err)

	s.AddProxyClient(aliceID)
	time, ok := s.Time(aliceID)
	require.True(t, ok)
	require.Equal(t, VectorTime{0, 1}, time)
	require.Equal(t, []uuid.UUID{hostID, aliceID}, s.Participants())
}

func keys(m map[uuid.UUID]JupiterActivity) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

func keysChecksum(m map[uuid.UUID]ChecksumActivity) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}
