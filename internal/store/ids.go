package store

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var wordLists = [][]string{adjectives, nouns, verbs, adverbs}

// NewCallID returns a memorable id such as "brave-otter-sings-loudly",
// one word from each list in order.
func NewCallID() (string, error) {
	words := make([]string, 0, len(wordLists))
	for _, list := range wordLists {
		i, err := randomIndex(len(list))
		if err != nil {
			return "", err
		}
		words = append(words, list[i])
	}
	return strings.Join(words, "-"), nil
}

func randomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
