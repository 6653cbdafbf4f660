package ledger

import (
	"math/big"
	"sync"
	"sync/atomic"
)

// DefaultDifficulty is the number of leading zero hex digits a proof hash
// must have.
const DefaultDifficulty = 4

// Solver finds and checks proof-of-work nonces.
type Solver interface {
	// Solve returns the smallest positive proof p such that IsValid(p, previousProof).
	Solve(previousProof int64) int64

	// IsValid reports whether proof satisfies the puzzle seeded by previousProof.
	IsValid(proof, previousProof int64) bool
}

// ProofOfWork is a Solver that searches proofs linearly from 1.
// With Workers > 1 the candidates are split by stride between goroutines;
// the result is the same as with a single worker.
type ProofOfWork struct {
	Difficulty int
	Workers    int
}

// NewProofOfWork returns a single worker ProofOfWork requiring difficulty
// leading zero hex digits.
func NewProofOfWork(difficulty int) *ProofOfWork {
	return &ProofOfWork{
		Difficulty: difficulty,
		Workers:    1,
	}
}

// WithWorkers sets the number of goroutines used by Solve.
func (p *ProofOfWork) WithWorkers(workers int) *ProofOfWork {
	if workers < 1 {
		workers = 1
	}
	p.Workers = workers
	return p
}

// IsValid reports whether the hash of proof² - previousProof² starts with
// Difficulty zero hex digits.
func (p *ProofOfWork) IsValid(proof, previousProof int64) bool {
	digest := HashBytes(puzzle(proof, previousProof))
	if len(digest) < p.Difficulty {
		return false
	}
	for i := 0; i < p.Difficulty; i++ {
		if digest[i] != '0' {
			return false
		}
	}
	return true
}

func (p *ProofOfWork) Solve(previousProof int64) int64 {
	if p.Workers <= 1 {
		proof := int64(1)
		for !p.IsValid(proof, previousProof) {
			proof++
		}
		return proof
	}
	return p.solveParallel(previousProof)
}

// solveParallel lets worker i test i+1, i+1+w, i+1+2w, ... A worker stops as
// soon as its candidate exceeds the best proof found so far, so every
// candidate below the returned proof has been tested.
func (p *ProofOfWork) solveParallel(previousProof int64) int64 {
	var best atomic.Int64
	best.Store(-1)
	var wg sync.WaitGroup
	for w := 0; w < p.Workers; w++ {
		wg.Add(1)
		go func(start, stride int64) {
			defer wg.Done()
			for proof := start; ; proof += stride {
				if b := best.Load(); b != -1 && proof > b {
					return
				}
				if !p.IsValid(proof, previousProof) {
					continue
				}
				for {
					b := best.Load()
					if b != -1 && b <= proof {
						return
					}
					if best.CompareAndSwap(b, proof) {
						return
					}
				}
			}
		}(int64(w+1), int64(p.Workers))
	}
	wg.Wait()
	return best.Load()
}

// puzzle returns the decimal representation of proof² - previousProof².
func puzzle(proof, previousProof int64) []byte {
	a := big.NewInt(proof)
	a.Mul(a, a)
	b := big.NewInt(previousProof)
	b.Mul(b, b)
	return []byte(a.Sub(a, b).String())
}
