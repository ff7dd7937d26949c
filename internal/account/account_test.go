package account

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNewAccountFromHex(t *testing.T) {
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"bare hex", TestPrivateKeys[0], false},
		{"0x prefix", "0x" + TestPrivateKeys[0], false},
		{"surrounding whitespace", "  " + TestPrivateKeys[0] + "\n", false},
		{"empty", "", true},
		{"prefix only", "0x", true},
		{"not hex", "zz", true},
		{"too short", "abcd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := NewAccountFromHex(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for key %q", tt.key)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAccountFromHex() error: %v", err)
			}
			if acc.Address != want {
				t.Errorf("Address = %s, want %s", acc.Address.Hex(), want.Hex())
			}
		})
	}
}

func TestNewPair(t *testing.T) {
	receiver := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

	p, err := NewPair(TestPrivateKeys[0], receiver)
	if err != nil {
		t.Fatalf("NewPair() error: %v", err)
	}
	if p.Receiver != common.HexToAddress(receiver) {
		t.Errorf("Receiver = %s, want %s", p.Receiver.Hex(), receiver)
	}
	if p.Sender == nil || p.Sender.PrivateKey == nil {
		t.Fatal("sender account not populated")
	}

	if _, err := NewPair(TestPrivateKeys[0], "not-an-address"); err == nil {
		t.Error("expected error for invalid receiver")
	}
	if _, err := NewPair("", receiver); err == nil {
		t.Error("expected error for missing key")
	}
}
