package dbtypes

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestUUIDArrayScanPostgresLiteral(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	var got UUIDArray
	require.NoError(t, got.Scan([]byte(`{"`+a.String()+`",`+b.String()+`}`)))
	require.Equal(t, UUIDArray{a, b}, got)

	require.NoError(t, got.Scan(nil))
	require.Empty(t, got)
}

func TestUUIDArrayScanRejectsGarbage(t *testing.T) {
	var got UUIDArray
	require.Error(t, got.Scan("{not-a-uuid}"))
	require.Error(t, got.Scan(42))
}

func TestUUIDArrayEmptyValue(t *testing.T) {
	v, err := UUIDArray(nil).Value()
	require.NoError(t, err)
	require.Equal(t, "{}", v)
}

func TestUUIDArrayScanRejectsNonLiteral(t *testing.T) {
	var got UUIDArray
	require.Error(t, got.Scan(uuid.NewString()))
}

func TestUUIDArrayContains(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	arr := UUIDArray{a}
	require.True(t, arr.Contains(a))
	require.False(t, arr.Contains(b))

	v, err := UUIDArray{a, b}.Value()
	require.NoError(t, err)
	require.Equal(t, "{"+a.String()+","+b.String()+"}", v)
}
