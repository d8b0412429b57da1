package sched

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"golang.org/x/crypto/sha3"
)

// PairForRun selects the two stimulus identities presented on a run, drawn
// from a pool numbered 1..poolSize. The whole session shares one shuffled
// ordering of the pool, so no identity repeats across runs until the pool is
// exhausted, and any run's pair can be recomputed without state from earlier
// runs.
func PairForRun(subjectID string, session, run, poolSize int) (int, int) {
	sum := sha3.Sum256([]byte(fmt.Sprintf("sub-%s:ses-%d:pairs", subjectID, session)))
	rng := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))

	order := rng.Perm(poolSize)
	pairs := poolSize / 2
	i := ((run - 1) % pairs) * 2
	return order[i] + 1, order[i+1] + 1
}
