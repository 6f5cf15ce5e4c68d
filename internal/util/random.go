package util

import "math/rand"

const labelBytes = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomSuffix returns n random lowercase alphanumeric characters, used to
// label reserved instances.
func RandomSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = labelBytes[rand.Int63()%int64(len(labelBytes))]
	}
	return string(b)
}
