package audio

import (
	"bytes"
	"testing"
)

func TestAccumulator_DrainRequiresMoreThanOneBlock(t *testing.T) {
	acc := NewAccumulator(4)

	acc.Append([]byte{1, 2, 3, 4})
	if _, ok := acc.DrainBlock(); ok {
		t.Error("Expected no block when exactly one block is buffered")
	}

	acc.Append([]byte{5})
	block, ok := acc.DrainBlock()
	if !ok {
		t.Fatal("Expected a block once more than one block is buffered")
	}
	if !bytes.Equal(block, []byte{1, 2, 3, 4}) {
		t.Errorf("Expected [1 2 3 4], got %v", block)
	}
	if acc.Len() != 1 {
		t.Errorf("Expected 1 byte left, got %d", acc.Len())
	}
}

func TestAccumulator_FIFOOrder(t *testing.T) {
	acc := NewAccumulator(3)

	for i := byte(0); i < 10; i++ {
		acc.Append([]byte{i})
	}

	var drained []byte
	for {
		block, ok := acc.DrainBlock()
		if !ok {
			break
		}
		if len(block) != 3 {
			t.Fatalf("Expected block of 3 bytes, got %d", len(block))
		}
		drained = append(drained, block...)
	}

	// 10 bytes: two drains leave 4, a third leaves 1
	if !bytes.Equal(drained, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("Unexpected drain order: %v", drained)
	}
	if acc.Len() != 1 {
		t.Errorf("Expected 1 byte left, got %d", acc.Len())
	}
}

func TestAccumulator_OneBlockPerDrain(t *testing.T) {
	acc := NewAccumulator(DefaultBlockSize)
	acc.Append(make([]byte, DefaultBlockSize*3))

	block, ok := acc.DrainBlock()
	if !ok {
		t.Fatal("Expected a block")
	}
	if len(block) != DefaultBlockSize {
		t.Errorf("Expected block of %d bytes, got %d", DefaultBlockSize, len(block))
	}
	if acc.Len() != DefaultBlockSize*2 {
		t.Errorf("Expected %d bytes left, got %d", DefaultBlockSize*2, acc.Len())
	}
}

func TestAccumulator_DefaultsAndReset(t *testing.T) {
	acc := NewAccumulator(0)
	if acc.BlockSize() != DefaultBlockSize {
		t.Errorf("Expected default block size %d, got %d", DefaultBlockSize, acc.BlockSize())
	}

	acc.Append([]byte{1, 2, 3})
	acc.Reset()
	if acc.Len() != 0 {
		t.Errorf("Expected empty accumulator after reset, got %d bytes", acc.Len())
	}
}
