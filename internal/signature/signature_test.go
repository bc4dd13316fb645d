package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSecret = []byte("webhook-secret")
	testBody   = []byte(`{"event_type":"new_entries","feed":{"id":1},"entries":[]}`)
)

func TestVerifyValid(t *testing.T) {
	sig := Sign(testSecret, testBody)
	require.Len(t, sig, 64)
	assert.True(t, Verify(testSecret, testBody, sig))
	assert.NoError(t, Check(testSecret, testBody, true, sig))
}

func TestVerifyRejectsBodyBitFlips(t *testing.T) {
	sig := Sign(testSecret, testBody)
	for i := range testBody {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), testBody...)
			mutated[i] ^= 1 << bit
			if Verify(testSecret, mutated, sig) {
				t.Fatalf("mutated body accepted (byte %d bit %d)", i, bit)
			}
		}
	}
}

func TestVerifyRejectsSignatureBitFlips(t *testing.T) {
	sig := []byte(Sign(testSecret, testBody))
	for i := range sig {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), sig...)
			mutated[i] ^= 1 << bit
			err := Check(testSecret, testBody, true, string(mutated))
			if err == nil {
				t.Fatalf("mutated signature accepted (byte %d bit %d): %q", i, bit, mutated)
			}
		}
	}
}

func TestCheckReasons(t *testing.T) {
	sig := Sign(testSecret, testBody)

	assert.ErrorIs(t, Check(testSecret, testBody, true, ""), ErrMissingSignature)
	assert.ErrorIs(t, Check(testSecret, nil, false, sig), ErrMissingRawBody)
	assert.ErrorIs(t, Check([]byte("other"), testBody, true, sig), ErrInvalidSignature)
	assert.ErrorIs(t, Check(testSecret, testBody, true, "zz"), ErrInvalidSignature)
}

func TestEmptyBodyIsSignable(t *testing.T) {
	sig := Sign(testSecret, []byte{})
	assert.True(t, Verify(testSecret, []byte{}, sig))
}
