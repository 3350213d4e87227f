package chain

import (
	"context"
	"testing"
)

func Test_IsValidTampered(t *testing.T) {
	type table struct {
		name   string
		tamper func(bc *Blockchain)
		valid  bool
	}

	tt := []table{
		{
			name:   "data",
			tamper: func(bc *Blockchain) { bc.blocks[1].Data = "Tampered Data" },
		},
		{
			name:   "hash",
			tamper: func(bc *Blockchain) { bc.blocks[1].Hash = "0000" + bc.blocks[1].Hash[4:63] + "x" },
		},
		{
			name:   "middle",
			tamper: func(bc *Blockchain) { bc.blocks[2].Data = "Tampered Data" },
		},
		{
			name:   "genesis",
			tamper: func(bc *Blockchain) { bc.blocks[0].Hash = "0000tampered" },
		},
		{
			// Genesis has no parent so its own digest is never recomputed,
			// only the link from block 1 to its hash is checked.
			name:   "genesisdata",
			tamper: func(bc *Blockchain) { bc.blocks[0].Data = "Tampered" },
			valid:  true,
		},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			bc, err := New(context.Background(), Config{})
			if err != nil {
				t.Fatalf("Test %s:\tShould be able to construct the chain: %s", tst.name, err)
			}

			for _, data := range []string{"one", "two", "three"} {
				if _, err := bc.MineNextBlock(context.Background(), data); err != nil {
					t.Fatalf("Test %s:\tShould be able to mine: %s", tst.name, err)
				}
			}

			if !bc.IsValid() {
				t.Fatalf("Test %s:\tShould be valid before tampering.", tst.name)
			}

			tst.tamper(bc)

			if got := bc.IsValid(); got != tst.valid {
				t.Fatalf("Test %s:\tShould report valid=%t after tampering, got %t.", tst.name, tst.valid, got)
			}
		}

		t.Run(tst.name, f)
	}
}
