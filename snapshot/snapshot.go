// Package snapshot reads and writes point-in-time copies of a tree's entries
// in a compact binary format.
//
// A snapshot is a sequence of records, one per entry, in ascending key order.
// Each record is the entry's key then its value, each preceded by its length
// encoded as an unsigned varint.
package snapshot

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dogmatiq/treekit/tree"
)

// Write writes a snapshot of every entry in t to w.
func Write(ctx context.Context, w io.Writer, t tree.Tree) error {
	bw := bufio.NewWriter(w)

	var buf [binary.MaxVarintLen64]byte

	writeBlock := func(data []byte) error {
		n := binary.PutUvarint(buf[:], uint64(len(data)))
		if _, err := bw.Write(buf[:n]); err != nil {
			return err
		}
		_, err := bw.Write(data)
		return err
	}

	if err := t.Range(
		ctx,
		func(_ context.Context, k, v []byte) (bool, error) {
			if err := writeBlock(k); err != nil {
				return false, err
			}
			if err := writeBlock(v); err != nil {
				return false, err
			}
			return true, nil
		},
	); err != nil {
		return fmt.Errorf("cannot write snapshot: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("cannot write snapshot: %w", err)
	}

	return nil
}

// Restore reads a snapshot from r and sets each of its entries within t.
//
// It does not remove entries that are in t but not in the snapshot.
func Restore(ctx context.Context, r io.Reader, t tree.Tree) error {
	br := bufio.NewReader(r)

	readBlock := func() ([]byte, error) {
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}

		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}

		return data, nil
	}

	for {
		k, err := readBlock()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("snapshot is corrupt: %w", err)
		}

		v, err := readBlock()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("snapshot is corrupt: %w", err)
		}

		if _, _, err := t.Set(ctx, k, v); err != nil {
			return fmt.Errorf("cannot restore snapshot: %w", err)
		}
	}
}
