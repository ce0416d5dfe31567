package phasing

import (
	"encoding/binary"
	"math/rand"

	"blainsmith.com/go/seahash"
)

// Salts separating the independent random streams of the engine.  Every
// parallel task seeds its own rand.Rand from (baseSeed, salt, index) so
// that results are reproducible for a fixed seed regardless of thread
// scheduling.
const (
	saltInit    = 0x696e6974 // "init"
	saltSteps   = 0x73746570 // "step"
	saltPbwt    = 0x70627774 // "pbwt"
	saltLowFreq = 0x6c667270 // "lfrp"
	saltPhase   = 0x70687365 // "phse"
	saltStates  = 0x73746174 // "stat"
	saltRegress = 0x72677273 // "rgrs"
	saltImpute  = 0x696d7074 // "impt"
	saltWindow  = 0x776e6477 // "wndw"
)

// taskSeed derives a deterministic seed for one parallel task.
func taskSeed(baseSeed int64, salt uint32, index int) int64 {
	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(baseSeed))
	binary.LittleEndian.PutUint32(buf[8:], salt)
	binary.LittleEndian.PutUint64(buf[12:], uint64(index))
	return int64(seahash.Sum64(buf[:]))
}

// taskRand returns a rand.Rand for one parallel task.
func taskRand(baseSeed int64, salt uint32, index int) *rand.Rand {
	return rand.New(rand.NewSource(taskSeed(baseSeed, salt, index)))
}
