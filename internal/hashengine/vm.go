package hashengine

import (
	"encoding/binary"
	"math"
	"math/bits"
	"math/rand"
)

// vm is a minimal register machine executing a short pseudo-random program
// over a scratchpad, standing in for RandomX's full instruction set: enough
// register/memory mixing that the hash is sensitive to every input byte and
// to the dataset/cache contents it reads through, without implementing the
// full RandomX ISA.
type vm struct {
	r          [8]uint64
	f          [4][2]float64
	scratchpad []byte
	program    []instruction
}

type instruction struct {
	opcode uint8
	dst    uint8
	src    uint8
	imm    uint32
	mod    uint8
}

const (
	opAddRS = iota
	opAddM
	opSubR
	opMulR
	opXorR
	opRorR
	opRolR
	opFAddR
	opFMulR
	opFSqrtR
	opStoreM
	opLoadM
	opNumOpcodes
)

func newVM(scratchpadSize, programSize int) *vm {
	return &vm{
		scratchpad: make([]byte, scratchpadSize),
		program:    make([]instruction, programSize),
	}
}

// init seeds registers and the scratchpad from seed and the memory-hard
// dataset window, then generates the program deterministically from seed.
func (m *vm) init(seed [32]byte, datasetWindow []byte) {
	for i := 0; i < 8; i++ {
		m.r[i] = binary.LittleEndian.Uint64(seed[(i%4)*8 : (i%4)*8+8])
	}
	for i := 0; i < 4; i++ {
		m.f[i][0] = float64(m.r[i]) / float64(math.MaxUint64)
		m.f[i][1] = float64(m.r[i+4]) / float64(math.MaxUint64)
	}

	n := copy(m.scratchpad, datasetWindow)
	for n < len(m.scratchpad) {
		n += copy(m.scratchpad[n:], datasetWindow)
	}

	rng := rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(seed[:8]))))
	for i := range m.program {
		m.program[i] = instruction{
			opcode: uint8(rng.Intn(opNumOpcodes)),
			dst:    uint8(rng.Intn(8)),
			src:    uint8(rng.Intn(8)),
			imm:    rng.Uint32(),
			mod:    uint8(rng.Intn(4)),
		}
	}
}

func (m *vm) run() {
	for _, inst := range m.program {
		m.exec(inst)
	}
}

func (m *vm) exec(inst instruction) {
	mask := uint64(len(m.scratchpad) - 8)
	switch inst.opcode {
	case opAddRS:
		m.r[inst.dst] += m.r[inst.src] << (inst.mod & 3)
	case opAddM:
		addr := m.r[inst.src] & mask
		m.r[inst.dst] += binary.LittleEndian.Uint64(m.scratchpad[addr:])
	case opSubR:
		m.r[inst.dst] -= m.r[inst.src]
	case opMulR:
		m.r[inst.dst] *= m.r[inst.src]
	case opXorR:
		m.r[inst.dst] ^= m.r[inst.src]
	case opRorR:
		rot := m.r[inst.src] & 63
		m.r[inst.dst] = bits.RotateLeft64(m.r[inst.dst], -int(rot))
	case opRolR:
		rot := m.r[inst.src] & 63
		m.r[inst.dst] = bits.RotateLeft64(m.r[inst.dst], int(rot))
	case opFAddR:
		m.f[inst.dst&3][0] += m.f[inst.src&3][0]
		m.f[inst.dst&3][1] += m.f[inst.src&3][1]
	case opFMulR:
		m.f[inst.dst&3][0] *= m.f[inst.src&3][0]
		m.f[inst.dst&3][1] *= m.f[inst.src&3][1]
	case opFSqrtR:
		m.f[inst.dst&3][0] = math.Sqrt(math.Abs(m.f[inst.dst&3][0]))
		m.f[inst.dst&3][1] = math.Sqrt(math.Abs(m.f[inst.dst&3][1]))
	case opStoreM:
		addr := m.r[inst.dst] & mask
		binary.LittleEndian.PutUint64(m.scratchpad[addr:], m.r[inst.src])
	case opLoadM:
		addr := m.r[inst.src] & mask
		m.r[inst.dst] ^= binary.LittleEndian.Uint64(m.scratchpad[addr:])
	}
}

// finalize folds VM state down to a 32-byte hash.
func (m *vm) finalize() [32]byte {
	buf := make([]byte, 64+64)
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], m.r[i])
	}
	offset := 64
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(buf[offset+i*16:], math.Float64bits(m.f[i][0]))
		binary.LittleEndian.PutUint64(buf[offset+i*16+8:], math.Float64bits(m.f[i][1]))
	}
	return sha256Sum(buf)
}
