package world

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand/v2"

	"github.com/klauspost/compress/zstd"
)

// snapshotVersion is written as the first byte of every snapshot. It is
// bumped whenever the fixed-width layout changes; no migration between
// versions is attempted.
const snapshotVersion byte = 1

var byteOrder = binary.LittleEndian

// Save writes a complete, byte-strict snapshot of the simulator to w:
// configuration, tick counter, RNG state, patch map, agent table, semaphore
// table and coordinator state. If Config.CompressSnapshots is set, the
// patch-map section is wrapped in a zstd stream.
func (sim *Simulator) Save(w io.Writer) error {
	sim.worldMu.RLock()
	defer sim.worldMu.RUnlock()
	bw := bufio.NewWriter(w)
	if err := writeByte(bw, snapshotVersion); err != nil {
		return err
	}
	if err := writeBool(bw, sim.conf.CompressSnapshots); err != nil {
		return err
	}
	if err := sim.writeConfig(bw); err != nil {
		return err
	}

	sim.tickMu.Lock()
	tick := sim.currentTick
	sim.tickMu.Unlock()
	if err := writeInt64(bw, tick); err != nil {
		return err
	}

	sim.rngMu.Lock()
	rngBytes, err := sim.rngSrc.MarshalBinary()
	sim.rngMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: marshal rng state: %v", ErrIO, err)
	}
	if err := writeBytes(bw, rngBytes); err != nil {
		return err
	}

	if err := sim.writePatches(bw); err != nil {
		return err
	}
	if err := sim.writeAgents(bw); err != nil {
		return err
	}
	if err := sim.writeSemaphores(bw); err != nil {
		return err
	}
	if err := sim.writeCoordinator(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (sim *Simulator) writeConfig(w io.Writer) error {
	c := sim.conf
	if err := writeUint64(w, c.RandomSeed); err != nil {
		return err
	}
	if err := writeInt64(w, c.PatchSize); err != nil {
		return err
	}
	if err := writeInt64(w, int64(c.MCMCIterations)); err != nil {
		return err
	}
	if err := writeByte(w, byte(c.SamplerMode)); err != nil {
		return err
	}
	if err := writeInt64(w, int64(c.ScentDim)); err != nil {
		return err
	}
	if err := writeInt64(w, int64(c.ColorDim)); err != nil {
		return err
	}
	if err := writeInt64(w, c.VisionRange); err != nil {
		return err
	}
	if err := writeInt64(w, c.MaxStepsPerMovement); err != nil {
		return err
	}
	for _, allowed := range c.AllowedMovementDirections {
		if err := writeBool(w, allowed); err != nil {
			return err
		}
	}
	for _, allowed := range c.AllowedTurnDirections {
		if err := writeBool(w, allowed); err != nil {
			return err
		}
	}
	if err := writeBool(w, c.NoOpAllowed); err != nil {
		return err
	}
	if err := writeByte(w, byte(c.CollisionPolicy)); err != nil {
		return err
	}
	if err := writeFloat64(w, c.ScentDecay); err != nil {
		return err
	}
	if err := writeFloat64(w, c.ScentDiffusion); err != nil {
		return err
	}
	if err := writeInt64(w, c.RemovedItemLifetime); err != nil {
		return err
	}
	if err := writeFloat64(w, c.FieldOfView); err != nil {
		return err
	}
	if err := writeFloat64Slice(w, c.AgentColor); err != nil {
		return err
	}
	if err := writeInt64(w, int64(len(c.ItemTypes))); err != nil {
		return err
	}
	for _, it := range c.ItemTypes {
		if err := writeItemType(w, it); err != nil {
			return err
		}
	}
	return nil
}

func writeItemType(w io.Writer, it ItemType) error {
	if err := writeString(w, it.Name); err != nil {
		return err
	}
	if err := writeFloat64Slice(w, it.Scent); err != nil {
		return err
	}
	if err := writeFloat64Slice(w, it.Color); err != nil {
		return err
	}
	if err := writeIntSlice(w, it.RequiredItemCounts); err != nil {
		return err
	}
	if err := writeIntSlice(w, it.RequiredItemCosts); err != nil {
		return err
	}
	if err := writeBool(w, it.BlocksMovement); err != nil {
		return err
	}
	if err := writeFloat64(w, it.VisualOcclusion); err != nil {
		return err
	}
	if err := writeFuncRef(w, it.Intensity); err != nil {
		return err
	}
	if err := writeInt64(w, int64(len(it.Interaction))); err != nil {
		return err
	}
	for _, ref := range it.Interaction {
		if err := writeFuncRef(w, ref); err != nil {
			return err
		}
	}
	if err := writeFuncRef(w, it.Regeneration); err != nil {
		return err
	}
	return writeInt64(w, it.Lifetime)
}

func writeFuncRef(w io.Writer, ref FuncRef) error {
	if err := writeInt64(w, int64(ref.Tag)); err != nil {
		return err
	}
	return writeFloat64Slice(w, ref.Args)
}

func (sim *Simulator) writePatches(w io.Writer) error {
	var patches []*Patch
	sim.patchStore.forEachReady(func(p *Patch) { patches = append(patches, p) })

	if !sim.conf.CompressSnapshots {
		return writePatchList(w, patches)
	}
	// The compressed section is length-prefixed so the decoder cannot read
	// past the end of the patch map into the agent table.
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := writePatchList(enc, patches); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return writeBytes(w, buf.Bytes())
}

func writePatchList(w io.Writer, patches []*Patch) error {
	if err := writeInt64(w, int64(len(patches))); err != nil {
		return err
	}
	for _, p := range patches {
		if err := writeInt64(w, p.Coord.X); err != nil {
			return err
		}
		if err := writeInt64(w, p.Coord.Y); err != nil {
			return err
		}
		if err := writeBool(w, p.Fixed); err != nil {
			return err
		}
		if err := writeInt64(w, int64(len(p.Items))); err != nil {
			return err
		}
		for _, it := range p.Items {
			if err := writeItemInstance(w, it); err != nil {
				return err
			}
		}
		if err := writeFloat64Slice(w, p.Scent); err != nil {
			return err
		}
		if err := writeInt64(w, p.LastScentUpdateTick); err != nil {
			return err
		}
		if err := writeInt64Slice(w, p.LastRegenerationTick); err != nil {
			return err
		}
	}
	return nil
}

func writeItemInstance(w io.Writer, it ItemInstance) error {
	if err := writeInt64(w, int64(it.Type)); err != nil {
		return err
	}
	if err := writeInt64(w, it.Location.X); err != nil {
		return err
	}
	if err := writeInt64(w, it.Location.Y); err != nil {
		return err
	}
	if err := writeInt64(w, it.CreationTick); err != nil {
		return err
	}
	return writeInt64(w, it.DeletionTick)
}

func (sim *Simulator) writeAgents(w io.Writer) error {
	agents := sim.agents.All()
	if err := writeInt64(w, int64(len(agents))); err != nil {
		return err
	}
	for _, a := range agents {
		a.mu.Lock()
		id, pos, dir := a.ID, a.position, a.direction
		scent := append([]float64(nil), a.currentScent...)
		vision := append([]float64(nil), a.currentVision...)
		inventory := append([]int(nil), a.collectedItems...)
		action := a.requestedAction
		active := a.active
		a.mu.Unlock()

		if err := writeInt64(w, id); err != nil {
			return err
		}
		if err := writeInt64(w, pos.X); err != nil {
			return err
		}
		if err := writeInt64(w, pos.Y); err != nil {
			return err
		}
		if err := writeByte(w, byte(dir)); err != nil {
			return err
		}
		if err := writeFloat64Slice(w, scent); err != nil {
			return err
		}
		if err := writeFloat64Slice(w, vision); err != nil {
			return err
		}
		if err := writeIntSlice(w, inventory); err != nil {
			return err
		}
		if err := writeByte(w, byte(action.Kind)); err != nil {
			return err
		}
		if err := writeByte(w, byte(action.Direction)); err != nil {
			return err
		}
		if err := writeInt64(w, action.Steps); err != nil {
			return err
		}
		if err := writeBool(w, active); err != nil {
			return err
		}
	}
	return nil
}

func (sim *Simulator) writeSemaphores(w io.Writer) error {
	sems := sim.semaphores.All()
	if err := writeInt64(w, int64(len(sems))); err != nil {
		return err
	}
	for _, s := range sems {
		if err := writeInt64(w, s.ID); err != nil {
			return err
		}
		if err := writeBool(w, s.Signaled()); err != nil {
			return err
		}
	}
	return nil
}

func (sim *Simulator) writeCoordinator(w io.Writer) error {
	sim.coordinator.mu.Lock()
	reported := make([]int64, 0, len(sim.coordinator.reportedAgents))
	for id := range sim.coordinator.reportedAgents {
		reported = append(reported, id)
	}
	excluded := make([]int64, 0, len(sim.coordinator.excluded))
	for id := range sim.coordinator.excluded {
		excluded = append(excluded, id)
	}
	sim.coordinator.mu.Unlock()
	sortInt64s(reported)
	sortInt64s(excluded)
	if err := writeInt64Slice(w, reported); err != nil {
		return err
	}
	return writeInt64Slice(w, excluded)
}

// Load replaces the simulator's entire state with the contents of r,
// written by a prior Save. Load is byte-strict: any malformed or
// version-mismatched input fails the load and leaves the simulator
// unmodified.
func (sim *Simulator) Load(r io.Reader) error {
	sim.worldMu.Lock()
	defer sim.worldMu.Unlock()
	br := bufio.NewReader(r)
	version, err := readByte(br)
	if err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("%w: snapshot version %d unsupported (want %d)", ErrIO, version, snapshotVersion)
	}
	compressed, err := readBool(br)
	if err != nil {
		return err
	}

	conf, err := readConfig(br)
	if err != nil {
		return err
	}
	conf.Log = sim.conf.Log
	conf.Registry = sim.conf.Registry
	conf.CompressSnapshots = compressed

	tick, err := readInt64(br)
	if err != nil {
		return err
	}
	rngBytes, err := readBytes(br)
	if err != nil {
		return err
	}
	rngSrc := &rand.PCG{}
	if err := rngSrc.UnmarshalBinary(rngBytes); err != nil {
		return fmt.Errorf("%w: unmarshal rng state: %v", ErrIO, err)
	}

	var patchSrc io.Reader = br
	if compressed {
		blob, err := readBytes(br)
		if err != nil {
			return err
		}
		dec, err := zstd.NewReader(bytes.NewReader(blob))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		patchSrc = dec
		defer dec.Close()
	}
	patches, err := readPatchList(patchSrc)
	if err != nil {
		return err
	}

	agentSnaps, err := readAgents(br)
	if err != nil {
		return err
	}
	semSnaps, err := readSemaphores(br)
	if err != nil {
		return err
	}
	reported, err := readInt64Slice(br)
	if err != nil {
		return err
	}
	excluded, err := readInt64Slice(br)
	if err != nil {
		return err
	}

	fresh, err := conf.New()
	if err != nil {
		return fmt.Errorf("%w: reconstructing config: %v", ErrIO, err)
	}

	sim.conf = fresh.conf
	sim.registry = fresh.registry
	sim.sampler = fresh.sampler
	sim.currentTick = tick
	sim.rngSrc = rngSrc
	sim.rng = rand.New(rngSrc)

	sim.patchStore = NewPatchStore(conf.PatchSize, int64(conf.ScentDim), int64(len(conf.ItemTypes)))
	for _, p := range patches {
		slot := &patchSlot{status: statusReady, patch: p}
		sim.patchStore.mu.Lock()
		sim.patchStore.index.Put(p.Coord.Pack(), int64(len(sim.patchStore.slots)))
		sim.patchStore.slots = append(sim.patchStore.slots, slot)
		sim.patchStore.mu.Unlock()
	}

	sim.agents = NewAgentTable()
	for _, as := range agentSnaps {
		a := &Agent{
			ID:              as.id,
			position:        as.pos,
			direction:       as.dir,
			currentScent:    as.scent,
			currentVision:   as.vision,
			collectedItems:  as.inventory,
			requestedAction: as.action,
			active:          as.active,
		}
		sim.agents.mu.Lock()
		sim.agents.agents[a.ID] = a
		if a.ID >= sim.agents.nextID {
			sim.agents.nextID = a.ID + 1
		}
		sim.agents.mu.Unlock()
	}

	sim.semaphores = NewSemaphoreTable()
	for _, ss := range semSnaps {
		s := &Semaphore{ID: ss.id, signaled: ss.signaled, active: true}
		sim.semaphores.mu.Lock()
		sim.semaphores.semaphores[s.ID] = s
		if s.ID >= sim.semaphores.nextID {
			sim.semaphores.nextID = s.ID + 1
		}
		sim.semaphores.mu.Unlock()
	}

	sim.coordinator = NewCoordinator(sim.agents, sim.semaphores)
	for _, id := range reported {
		sim.coordinator.reportedAgents[id] = struct{}{}
	}
	for _, id := range excluded {
		sim.coordinator.excluded[id] = struct{}{}
	}
	sim.diffuser = NewScentDiffuser(conf.PatchSize, int64(conf.ScentDim), conf.ScentDecay, conf.ScentDiffusion, conf.RemovedItemLifetime, conf.ItemTypes)
	sim.st = &stepper{sim: sim}
	return nil
}

type agentSnapshot struct {
	id        int64
	pos       Position
	dir       Direction
	scent     []float64
	vision    []float64
	inventory []int
	action    Action
	active    bool
}

type semaphoreSnapshot struct {
	id       int64
	signaled bool
}

func readConfig(r io.Reader) (Config, error) {
	var c Config
	var err error
	if c.RandomSeed, err = readUint64(r); err != nil {
		return c, err
	}
	if c.PatchSize, err = readInt64(r); err != nil {
		return c, err
	}
	mcmc, err := readInt64(r)
	if err != nil {
		return c, err
	}
	c.MCMCIterations = int(mcmc)
	mode, err := readByte(r)
	if err != nil {
		return c, err
	}
	c.SamplerMode = SamplerMode(mode)
	scentDim, err := readInt64(r)
	if err != nil {
		return c, err
	}
	c.ScentDim = int(scentDim)
	colorDim, err := readInt64(r)
	if err != nil {
		return c, err
	}
	c.ColorDim = int(colorDim)
	if c.VisionRange, err = readInt64(r); err != nil {
		return c, err
	}
	if c.MaxStepsPerMovement, err = readInt64(r); err != nil {
		return c, err
	}
	for i := range c.AllowedMovementDirections {
		if c.AllowedMovementDirections[i], err = readBool(r); err != nil {
			return c, err
		}
	}
	for i := range c.AllowedTurnDirections {
		if c.AllowedTurnDirections[i], err = readBool(r); err != nil {
			return c, err
		}
	}
	if c.NoOpAllowed, err = readBool(r); err != nil {
		return c, err
	}
	policy, err := readByte(r)
	if err != nil {
		return c, err
	}
	c.CollisionPolicy = CollisionPolicy(policy)
	if c.ScentDecay, err = readFloat64(r); err != nil {
		return c, err
	}
	if c.ScentDiffusion, err = readFloat64(r); err != nil {
		return c, err
	}
	if c.RemovedItemLifetime, err = readInt64(r); err != nil {
		return c, err
	}
	if c.FieldOfView, err = readFloat64(r); err != nil {
		return c, err
	}
	if c.AgentColor, err = readFloat64Slice(r); err != nil {
		return c, err
	}
	n, err := readInt64(r)
	if err != nil {
		return c, err
	}
	c.ItemTypes = make([]ItemType, n)
	for i := range c.ItemTypes {
		it, err := readItemType(r)
		if err != nil {
			return c, err
		}
		c.ItemTypes[i] = it
	}
	return c, nil
}

func readItemType(r io.Reader) (ItemType, error) {
	var it ItemType
	var err error
	if it.Name, err = readString(r); err != nil {
		return it, err
	}
	if it.Scent, err = readFloat64Slice(r); err != nil {
		return it, err
	}
	if it.Color, err = readFloat64Slice(r); err != nil {
		return it, err
	}
	if it.RequiredItemCounts, err = readIntSlice(r); err != nil {
		return it, err
	}
	if it.RequiredItemCosts, err = readIntSlice(r); err != nil {
		return it, err
	}
	if it.BlocksMovement, err = readBool(r); err != nil {
		return it, err
	}
	if it.VisualOcclusion, err = readFloat64(r); err != nil {
		return it, err
	}
	if it.Intensity, err = readFuncRef(r); err != nil {
		return it, err
	}
	m, err := readInt64(r)
	if err != nil {
		return it, err
	}
	it.Interaction = make([]FuncRef, m)
	for i := range it.Interaction {
		if it.Interaction[i], err = readFuncRef(r); err != nil {
			return it, err
		}
	}
	if it.Regeneration, err = readFuncRef(r); err != nil {
		return it, err
	}
	if it.Lifetime, err = readInt64(r); err != nil {
		return it, err
	}
	return it, nil
}

func readFuncRef(r io.Reader) (FuncRef, error) {
	tag, err := readInt64(r)
	if err != nil {
		return FuncRef{}, err
	}
	args, err := readFloat64Slice(r)
	if err != nil {
		return FuncRef{}, err
	}
	return FuncRef{Tag: FuncTag(tag), Args: args}, nil
}

func readPatchList(r io.Reader) ([]*Patch, error) {
	n, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	out := make([]*Patch, n)
	for i := range out {
		var x, y int64
		if x, err = readInt64(r); err != nil {
			return nil, err
		}
		if y, err = readInt64(r); err != nil {
			return nil, err
		}
		p := &Patch{Coord: PatchCoord{x, y}, occupied: make(map[Position]int)}
		if p.Fixed, err = readBool(r); err != nil {
			return nil, err
		}
		itemCount, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		p.Items = make([]ItemInstance, itemCount)
		for j := range p.Items {
			inst, err := readItemInstance(r)
			if err != nil {
				return nil, err
			}
			p.Items[j] = inst
			if inst.Alive() {
				p.occupied[inst.Location] = j
			}
		}
		if p.Scent, err = readFloat64Slice(r); err != nil {
			return nil, err
		}
		if p.LastScentUpdateTick, err = readInt64(r); err != nil {
			return nil, err
		}
		if p.LastRegenerationTick, err = readInt64Slice(r); err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func readItemInstance(r io.Reader) (ItemInstance, error) {
	var inst ItemInstance
	typ, err := readInt64(r)
	if err != nil {
		return inst, err
	}
	inst.Type = int(typ)
	if inst.Location.X, err = readInt64(r); err != nil {
		return inst, err
	}
	if inst.Location.Y, err = readInt64(r); err != nil {
		return inst, err
	}
	if inst.CreationTick, err = readInt64(r); err != nil {
		return inst, err
	}
	if inst.DeletionTick, err = readInt64(r); err != nil {
		return inst, err
	}
	return inst, nil
}

func readAgents(r io.Reader) ([]agentSnapshot, error) {
	n, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	out := make([]agentSnapshot, n)
	for i := range out {
		var a agentSnapshot
		if a.id, err = readInt64(r); err != nil {
			return nil, err
		}
		if a.pos.X, err = readInt64(r); err != nil {
			return nil, err
		}
		if a.pos.Y, err = readInt64(r); err != nil {
			return nil, err
		}
		dir, err := readByte(r)
		if err != nil {
			return nil, err
		}
		a.dir = Direction(dir)
		if a.scent, err = readFloat64Slice(r); err != nil {
			return nil, err
		}
		if a.vision, err = readFloat64Slice(r); err != nil {
			return nil, err
		}
		if a.inventory, err = readIntSlice(r); err != nil {
			return nil, err
		}
		kind, err := readByte(r)
		if err != nil {
			return nil, err
		}
		actDir, err := readByte(r)
		if err != nil {
			return nil, err
		}
		steps, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		a.action = Action{Kind: ActionKind(kind), Direction: Direction(actDir), Steps: steps}
		if a.active, err = readBool(r); err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

func readSemaphores(r io.Reader) ([]semaphoreSnapshot, error) {
	n, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	out := make([]semaphoreSnapshot, n)
	for i := range out {
		var s semaphoreSnapshot
		var err error
		if s.id, err = readInt64(r); err != nil {
			return nil, err
		}
		if s.signaled, err = readBool(r); err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// --- primitive wire helpers ---

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return buf[0], nil
}

func writeBool(w io.Writer, b bool) error {
	if b {
		return writeByte(w, 1)
	}
	return writeByte(w, 0)
}

func readBool(r io.Reader) (bool, error) {
	b, err := readByte(r)
	return b != 0, err
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return byteOrder.Uint64(buf[:]), nil
}

func writeInt64(w io.Writer, v int64) error {
	return writeUint64(w, uint64(v))
}

func readInt64(r io.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func writeFloat64(w io.Writer, v float64) error {
	return writeUint64(w, math.Float64bits(v))
}

func readFloat64(r io.Reader) (float64, error) {
	v, err := readUint64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeInt64(w, int64(len(b))); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return buf, nil
}

func writeString(w io.Writer, s string) error { return writeBytes(w, []byte(s)) }

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeFloat64Slice(w io.Writer, s []float64) error {
	if err := writeInt64(w, int64(len(s))); err != nil {
		return err
	}
	for _, v := range s {
		if err := writeFloat64(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readFloat64Slice(r io.Reader) ([]float64, error) {
	n, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		if out[i], err = readFloat64(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeIntSlice(w io.Writer, s []int) error {
	if err := writeInt64(w, int64(len(s))); err != nil {
		return err
	}
	for _, v := range s {
		if err := writeInt64(w, int64(v)); err != nil {
			return err
		}
	}
	return nil
}

func readIntSlice(r io.Reader) ([]int, error) {
	n, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	out := make([]int, n)
	for i := range out {
		v, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		out[i] = int(v)
	}
	return out, nil
}

func writeInt64Slice(w io.Writer, s []int64) error {
	if err := writeInt64(w, int64(len(s))); err != nil {
		return err
	}
	for _, v := range s {
		if err := writeInt64(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readInt64Slice(r io.Reader) ([]int64, error) {
	n, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		if out[i], err = readInt64(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}
