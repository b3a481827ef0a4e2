package dedup

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_Digest(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	sha, err := NewHasher(AlgorithmSHA1, false)
	require.NoError(t, err)

	// FIPS 180-1 test vector.
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", hex.EncodeToString(sha.Digest("abc")))
	assert.Len(t, sha.Digest(""), DigestSize)
	assert.Equal(t, sha.Digest("disk / at 95%"), sha.Digest("disk / at 95%"))
	assert.NotEqual(t, sha.Digest("disk / at 95%"), sha.Digest("disk / at 96%"))

	blake, err := NewHasher(AlgorithmBLAKE2b, false)
	require.NoError(t, err)

	assert.Len(t, blake.Digest("abc"), DigestSize)
	assert.NotEqual(t, sha.Digest("abc"), blake.Digest("abc"))
	assert.Equal(t, AlgorithmBLAKE2b, blake.Algorithm())
}

func TestHasher_Canonicalize(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	exact, err := NewHasher(AlgorithmSHA1, false)
	require.NoError(t, err)

	canonical, err := NewHasher(AlgorithmSHA1, true)
	require.NoError(t, err)

	a := "worker <0xc000123abc> stalled"
	b := "worker <0xc000fff000>   stalled\n"

	assert.NotEqual(t, exact.Digest(a), exact.Digest(b))
	assert.Equal(t, canonical.Digest(a), canonical.Digest(b))
}

func TestParseAlgorithm(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		input   string
		want    Algorithm
		wantErr error
	}{
		{input: "", want: AlgorithmSHA1},
		{input: "SHA1", want: AlgorithmSHA1},
		{input: " blake2b ", want: AlgorithmBLAKE2b},
		{input: "md5", wantErr: ErrUnknownAlgorithm},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseAlgorithm(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}

			if got != tt.want {
				t.Errorf("ParseAlgorithm(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	_, err := NewHasher("crc32", false)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestCanonicalize(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "address masked", input: "conn 0xc000123abc closed", want: "conn 0x? closed"},
		{name: "short hex kept", input: "flags 0x1f", want: "flags 0x1f"},
		{name: "whitespace collapsed", input: "  timeout\n\tafter 3s ", want: "timeout after 3s"},
		{name: "numbers kept", input: "disk / at 95%", want: "disk / at 95%"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Canonicalize(tt.input); got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
