package diskstore

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jbw-sim/jbw/world"
)

var order = binary.LittleEndian

func encodeEntry(w io.Writer, entry world.PatchCacheEntry) error {
	if err := writeBool(w, entry.Fixed); err != nil {
		return err
	}
	if err := writeInt64(w, int64(len(entry.Items))); err != nil {
		return err
	}
	for _, it := range entry.Items {
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
		if err := writeInt64(w, it.DeletionTick); err != nil {
			return err
		}
	}
	return nil
}

func decodeEntry(r io.Reader) (world.PatchCacheEntry, error) {
	var entry world.PatchCacheEntry
	var err error
	if entry.Fixed, err = readBool(r); err != nil {
		return world.PatchCacheEntry{}, err
	}
	n, err := readInt64(r)
	if err != nil {
		return world.PatchCacheEntry{}, err
	}
	entry.Items = make([]world.ItemInstance, n)
	for i := range entry.Items {
		typ, err := readInt64(r)
		if err != nil {
			return world.PatchCacheEntry{}, err
		}
		entry.Items[i].Type = int(typ)
		if entry.Items[i].Location.X, err = readInt64(r); err != nil {
			return world.PatchCacheEntry{}, err
		}
		if entry.Items[i].Location.Y, err = readInt64(r); err != nil {
			return world.PatchCacheEntry{}, err
		}
		if entry.Items[i].CreationTick, err = readInt64(r); err != nil {
			return world.PatchCacheEntry{}, err
		}
		if entry.Items[i].DeletionTick, err = readInt64(r); err != nil {
			return world.PatchCacheEntry{}, err
		}
	}
	return entry, nil
}

func writeBool(w io.Writer, b bool) error {
	v := byte(0)
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

func readBool(r io.Reader) (bool, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false, fmt.Errorf("diskstore: %w", err)
	}
	return buf[0] != 0, nil
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	order.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func readInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("diskstore: %w", err)
	}
	return int64(order.Uint64(buf[:])), nil
}
