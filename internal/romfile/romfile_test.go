package romfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeHeader(code [4]byte, revision uint8) []byte {
	data := make([]byte, headerLen)
	copy(data[gameCodeOffset:], code[:])
	data[revisionOffset] = revision

	return data
}

func TestIdentifyBytesExtractsCodeAndRevision(t *testing.T) {
	data := fakeHeader([4]byte{'B', 'R', '6', 'E'}, 1)

	id, err := IdentifyBytes(data)
	require.NoError(t, err)
	require.Equal(t, [4]byte{'B', 'R', '6', 'E'}, id.Code)
	require.Equal(t, uint8(1), id.Revision)
	require.NotZero(t, id.CRC32)
}

func TestIdentifyBytesCRC32ChangesWithContent(t *testing.T) {
	a := fakeHeader([4]byte{'A', 'A', 'A', 'A'}, 0)
	b := fakeHeader([4]byte{'B', 'B', 'B', 'B'}, 0)

	idA, err := IdentifyBytes(a)
	require.NoError(t, err)

	idB, err := IdentifyBytes(b)
	require.NoError(t, err)

	require.NotEqual(t, idA.CRC32, idB.CRC32)
}

func TestIdentifyBytesRejectsTooSmall(t *testing.T) {
	_, err := IdentifyBytes(make([]byte, 10))
	require.ErrorIs(t, err, ErrTooSmall)
}
