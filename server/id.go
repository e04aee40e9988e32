package server

import (
	"crypto/rand"
	"math/big"
)

const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// idLength is where generation starts, every idAttemptsPerLength
	// collisions make ids one character longer.
	idLength            = 4
	idAttemptsPerLength = 4
	maxIDAttempts       = 64
)

var idAlphabetSize = big.NewInt(int64(len(idAlphabet)))

// GenerateID returns a short random id that taken reports as free. Ids are
// prefixed with prefix and a slash when prefix is not empty.
func GenerateID(prefix string, taken func(id string) bool) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := randomString(idLength + attempt/idAttemptsPerLength)
		if err != nil {
			return "", err
		}

		if prefix != "" {
			id = prefix + "/" + id
		}

		if !taken(id) {
			return id, nil
		}
	}

	return "", ErrIDExhausted
}

func randomString(length int) (string, error) {
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, idAlphabetSize)
		if err != nil {
			return "", err
		}

		out[i] = idAlphabet[n.Int64()]
	}

	return string(out), nil
}
